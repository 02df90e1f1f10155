package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/daemon/internal/config"
	"github.com/folder-mcp/daemon/internal/fmdm"
	"github.com/folder-mcp/daemon/internal/logging"
	"github.com/folder-mcp/daemon/internal/mcpbridge"
	"github.com/folder-mcp/daemon/internal/orchestrator"
)

// newMCPCmd creates the stdio tool-protocol bridge command. stdout is
// reserved for the protocol stream, so logging goes file-only.
func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP stdio bridge over the configured folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cleanup, err := logging.SetupMCPMode()
			if err != nil {
				return err
			}
			defer cleanup()
			return runMCP(cmd.Context())
		},
	}
}

func runMCP(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.Default()
	broadcaster := fmdm.NewBroadcaster(logger)
	defer broadcaster.Close()

	orch := orchestrator.New(ctx, orchestrator.Config{
		Broadcaster:  broadcaster,
		WatchFolders: true,
		PoolWorkers:  cfg.Performance.PoolWorkers,
		Logger:       logger,
	})
	defer orch.Shutdown(context.Background())

	addConfiguredFolders(ctx, cfg, orch, logger)

	bridge, err := mcpbridge.NewServer(orch, logger)
	if err != nil {
		return err
	}
	return bridge.Serve(ctx)
}
