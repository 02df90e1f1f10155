package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateUserConfig points the user-config paths at a scratch directory.
func isolateUserConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "folder-mcp")
}

func writeUserConfig(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(GetUserConfigDir(), 0o755))
	require.NoError(t, os.WriteFile(GetUserConfigPath(), []byte(content), 0o644))
}

func TestBackupUserConfig_NoConfigIsNotAnError(t *testing.T) {
	isolateUserConfig(t)

	path, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, path, "nothing to back up yet")
}

func TestBackupUserConfig_SnapshotsCurrentContent(t *testing.T) {
	isolateUserConfig(t)
	writeUserConfig(t, "version: 1\n# original\n")

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)
	assert.Contains(t, filepath.Base(backupPath), ".bak.")

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n# original\n", string(data))
}

func TestBackupUserConfig_PrunesBeyondMaxBackups(t *testing.T) {
	isolateUserConfig(t)
	writeUserConfig(t, "version: 1\n")

	// Fabricate a spread of timestamped backups, then trigger one more.
	base := GetUserConfigPath()
	for i := 0; i < MaxBackups+2; i++ {
		stamp := time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC).Format(backupTimeFormat)
		name := fmt.Sprintf("%s.bak.%s", base, stamp)
		require.NoError(t, os.WriteFile(name, []byte("old"), 0o644))
	}

	_, err := BackupUserConfig()
	require.NoError(t, err)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestListUserConfigBackups_NewestFirst(t *testing.T) {
	isolateUserConfig(t)
	writeUserConfig(t, "version: 1\n")

	base := GetUserConfigPath()
	older := base + ".bak.20260101-000000"
	newer := base + ".bak.20260301-000000"
	require.NoError(t, os.WriteFile(older, []byte("older"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("newer"), 0o644))

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, newer, backups[0])
	assert.Equal(t, older, backups[1])
}

func TestListUserConfigBackups_NoDirectory(t *testing.T) {
	isolateUserConfig(t)
	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestRestoreUserConfig_RoundTrip(t *testing.T) {
	isolateUserConfig(t)
	writeUserConfig(t, "version: 1\n# good\n")

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)

	// Clobber the live config, then restore.
	writeUserConfig(t, "version: 1\n# broken edit\n")
	require.NoError(t, RestoreUserConfig(backupPath))

	data, err := os.ReadFile(GetUserConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n# good\n", string(data))
}

func TestRestoreUserConfig_BacksUpCurrentFirst(t *testing.T) {
	isolateUserConfig(t)
	writeUserConfig(t, "version: 1\n# first\n")

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)

	writeUserConfig(t, "version: 1\n# second\n")
	before, err := ListUserConfigBackups()
	require.NoError(t, err)

	require.NoError(t, RestoreUserConfig(backupPath))

	after, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Greater(t, len(after), len(before), "restore must snapshot the clobbered config too")
}

func TestRestoreUserConfig_MissingBackupFails(t *testing.T) {
	isolateUserConfig(t)
	assert.Error(t, RestoreUserConfig(filepath.Join(t.TempDir(), "nope.bak")))
}

func TestSaveTo_UserPathTriggersBackup(t *testing.T) {
	isolateUserConfig(t)
	writeUserConfig(t, "version: 1\n")

	cfg := NewConfig()
	require.NoError(t, cfg.Save())

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.NotEmpty(t, backups, "saving over an existing config must back it up first")
}
