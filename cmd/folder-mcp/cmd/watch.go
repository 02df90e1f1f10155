package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/daemon/internal/config"
	"github.com/folder-mcp/daemon/internal/fmdm"
	"github.com/folder-mcp/daemon/internal/orchestrator"
	"github.com/folder-mcp/daemon/internal/output"
)

// newWatchCmd creates the watch command: index a folder, then keep it
// current from file-watcher events until interrupted.
func newWatchCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "watch <folder>",
		Short: "Index a folder and keep it updated as files change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := resolveFolderArg(args[0])
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), folder, model)
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Embedding model id (default from config)")
	return cmd
}

func runWatch(ctx context.Context, folder, model string) error {
	out := output.New(os.Stdout)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if model == "" {
		model = cfg.Embeddings.DefaultModel
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	broadcaster := fmdm.NewBroadcaster(nil)
	defer broadcaster.Close()

	orch := orchestrator.New(ctx, orchestrator.Config{
		Broadcaster:  broadcaster,
		WatchFolders: true,
		PoolWorkers:  cfg.Performance.PoolWorkers,
	})
	defer orch.Shutdown(context.Background())

	unsubscribe := broadcaster.Subscribe(func(doc fmdm.Document) {
		for _, f := range doc.Folders {
			if f.Path != folder {
				continue
			}
			switch {
			case f.Status == fmdm.StatusIndexing && f.Progress != nil:
				out.Statusf("⚙️ ", "indexing %d%% (%d/%d)",
					f.Progress.Percentage, f.Progress.Completed+f.Progress.Failed, f.Progress.Total)
			case f.Status == fmdm.StatusActive:
				out.Success("up to date; watching for changes")
			case f.Status == fmdm.StatusError:
				out.Warning("folder entered error state")
			}
		}
	})
	defer unsubscribe()

	result, err := orch.AddFolder(ctx, orchestrator.FolderSettings{
		Path:    folder,
		Model:   model,
		Enabled: true,
	})
	if err != nil {
		return err
	}
	if !result.Valid {
		for _, issue := range result.Errors {
			out.Warningf("%s: %s", issue.Type, issue.Message)
		}
		return usageErrorf("folder rejected")
	}

	out.Statusf("👀", "watching %s (ctrl-c to stop)", folder)
	<-ctx.Done()
	out.Status("", "stopping")
	return nil
}
