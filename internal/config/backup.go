package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is how many configuration backups are kept; older ones
	// are pruned after each write.
	MaxBackups = 3

	// backupTimeFormat stamps backup filenames down to nanoseconds, so
	// two writes in the same second never collide. Lexical order equals
	// chronological order, so pruning can sort names instead of stats.
	backupTimeFormat = "20060102-150405.000000000"
)

// BackupUserConfig snapshots the user configuration before a write, so a
// bad edit (or a bug in ours) is always one restore away. Returns the
// backup path, or "" when there is no configuration yet.
func BackupUserConfig() (string, error) {
	if !UserConfigExists() {
		return "", nil
	}

	configPath := GetUserConfigPath()
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s.bak.%s", configPath, time.Now().Format(backupTimeFormat))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write config backup: %w", err)
	}

	// Pruning is best effort; the backup itself succeeded.
	pruneBackups(configPath)

	return backupPath, nil
}

// ListUserConfigBackups returns the existing backups, newest first.
func ListUserConfigBackups() ([]string, error) {
	configPath := GetUserConfigPath()
	entries, err := os.ReadDir(filepath.Dir(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list config directory: %w", err)
	}

	prefix := filepath.Base(configPath) + ".bak."
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(filepath.Dir(configPath), entry.Name()))
		}
	}

	// Timestamped names sort chronologically; reverse for newest-first.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

// pruneBackups drops everything beyond the newest MaxBackups.
func pruneBackups(configPath string) {
	backups, err := ListUserConfigBackups()
	if err != nil || len(backups) <= MaxBackups {
		return
	}
	for _, stale := range backups[MaxBackups:] {
		_ = os.Remove(stale)
	}
}

// RestoreUserConfig replaces the user configuration with a backup. The
// current configuration, if any, is backed up first so a restore is
// itself reversible.
func RestoreUserConfig(backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}

	if UserConfigExists() {
		if _, err := BackupUserConfig(); err != nil {
			return fmt.Errorf("backup current config before restore: %w", err)
		}
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	if err := os.MkdirAll(GetUserConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(GetUserConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("write restored config: %w", err)
	}
	return nil
}
