// Package cmd provides the CLI commands for the folder-mcp daemon.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/daemon/internal/logging"
	"github.com/folder-mcp/daemon/pkg/version"
)

// Exit codes per the CLI contract.
const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitInvalidArgs = 2
)

// usageError marks failures caused by bad arguments rather than runtime
// faults, so Execute can map them to exit code 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the folder-mcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folder-mcp",
		Short: "Local document-indexing daemon with semantic search",
		Long: `folder-mcp watches your document folders, turns their contents into
semantic vector embeddings, and serves search to a TUI, a CLI and MCP
clients through one daemon.

Run 'folder-mcp daemon start' to launch the daemon, then add folders
from any connected client.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("folder-mcp version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.folder-mcp/logs/")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newEmbeddingsCmd())
	cmd.AddCommand(newBuildIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("set up debug logging: %w", err)
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// Execute runs the CLI and returns the process exit code: 0 success,
// 1 fatal, 2 invalid arguments.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)

		var ue usageError
		if errors.As(err, &ue) || isCobraUsageError(err) {
			return ExitInvalidArgs
		}
		return ExitFatal
	}
	return ExitOK
}

// isCobraUsageError detects cobra's own argument/flag errors.
func isCobraUsageError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag") ||
		strings.HasPrefix(msg, "accepts ") ||
		strings.HasPrefix(msg, "requires at least") ||
		strings.HasPrefix(msg, "invalid argument")
}
