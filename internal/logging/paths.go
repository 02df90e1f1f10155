package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.folder-mcp/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".folder-mcp", "logs")
	}
	return filepath.Join(home, ".folder-mcp", "logs")
}

// DefaultLogPath returns the default daemon log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "daemon.log")
}

// MCPLogPath returns the stdio MCP bridge log path. The bridge never
// writes to stderr (stdout/stderr belong to the protocol stream), so its
// diagnostics land here.
func MCPLogPath() string {
	return filepath.Join(DefaultLogDir(), "mcp.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceDaemon is the daemon logs (default).
	LogSourceDaemon LogSource = "daemon"
	// LogSourceMCP is the stdio MCP bridge logs.
	LogSourceMCP LogSource = "mcp"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. ~/.folder-mcp/logs/daemon.log (global)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. Daemon may not have run with --debug yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	// Explicit path takes precedence
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceDaemon:
		daemonPath := DefaultLogPath()
		checked = append(checked, daemonPath)
		if _, err := os.Stat(daemonPath); err == nil {
			paths = append(paths, daemonPath)
		}

	case LogSourceMCP:
		mcpPath := MCPLogPath()
		checked = append(checked, mcpPath)
		if _, err := os.Stat(mcpPath); err == nil {
			paths = append(paths, mcpPath)
		}

	case LogSourceAll:
		daemonPath := DefaultLogPath()
		mcpPath := MCPLogPath()
		checked = append(checked, daemonPath, mcpPath)

		if _, err := os.Stat(daemonPath); err == nil {
			paths = append(paths, daemonPath)
		}
		if _, err := os.Stat(mcpPath); err == nil {
			paths = append(paths, mcpPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: daemon, mcp, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "mcp":
		return LogSourceMCP
	case "all":
		return LogSourceAll
	default:
		return LogSourceDaemon
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceDaemon:
		return "To generate daemon logs:\n  folder-mcp --debug daemon start"
	case LogSourceMCP:
		return "To generate MCP bridge logs:\n  folder-mcp mcp"
	case LogSourceAll:
		return "To generate logs:\n  daemon: folder-mcp --debug daemon start\n  mcp:    folder-mcp mcp"
	default:
		return ""
	}
}
