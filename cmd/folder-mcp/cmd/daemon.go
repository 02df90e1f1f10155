package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/daemon/internal/config"
	"github.com/folder-mcp/daemon/internal/daemon"
	"github.com/folder-mcp/daemon/internal/fmdm"
	"github.com/folder-mcp/daemon/internal/orchestrator"
	"github.com/folder-mcp/daemon/internal/output"
	"github.com/folder-mcp/daemon/internal/rest"
)

// newDaemonCmd groups the daemon lifecycle subcommands.
func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the folder-mcp daemon",
	}
	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(os.Stdout)
			pidFile := daemon.NewPIDFile(daemon.DefaultConfig().PIDPath)
			if !pidFile.IsRunning() {
				out.Warning("daemon is not running")
				return nil
			}
			if err := pidFile.Signal(syscall.SIGTERM); err != nil {
				return err
			}
			out.Success("stop signal sent")
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(os.Stdout)
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			client, err := daemon.Dial(cfg.Server.SocketPath, 5*time.Second)
			if err != nil {
				out.Warning("daemon is not running")
				return nil
			}
			defer client.Close()

			if _, err := client.Init(cmd.Context(), "cli"); err != nil {
				return err
			}
			resp, err := client.Request(cmd.Context(), daemon.TypeGetServerInfo, nil)
			if err != nil {
				return err
			}

			daemonBlock, _ := resp["daemon"].(map[string]any)
			connections, _ := resp["connections"].(map[string]any)
			out.Successf("daemon running (pid %v, uptime %vs, %v client(s))",
				daemonBlock["pid"], daemonBlock["uptime"], connections["count"])

			select {
			case doc := <-client.Updates():
				for _, f := range doc.Folders {
					out.Statusf("📁", "%s [%s] %s", f.Name, f.Status, f.Path)
				}
			case <-time.After(2 * time.Second):
			}
			return nil
		},
	}
}

// runDaemon is the daemon main loop: configuration, orchestrator, duplex
// socket, REST surface and signal handling.
func runDaemon(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Unparseable configuration at startup is fatal by design.
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := slog.Default()
	out := output.New(os.Stdout)

	daemonCfg := daemon.DefaultConfig()
	daemonCfg.SocketPath = cfg.Server.SocketPath
	if err := daemonCfg.EnsureDir(); err != nil {
		return err
	}

	pidFile := daemon.NewPIDFile(daemonCfg.PIDPath)
	if pidFile.IsRunning() {
		return fmt.Errorf("daemon already running (pid file %s)", pidFile.Path())
	}
	if pidFile.IsStale() {
		logger.Warn("removing stale PID file from a previous daemon",
			slog.String("path", pidFile.Path()))
		_ = pidFile.Remove()
	}
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() { _ = pidFile.Remove() }()

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	broadcaster := fmdm.NewBroadcaster(logger)
	defer broadcaster.Close()

	persister := &configPersister{cfg: cfg}
	var server *daemon.Server

	orch := orchestrator.New(ctx, orchestrator.Config{
		Broadcaster:  broadcaster,
		Persister:    persister,
		WatchFolders: true,
		PoolWorkers:  cfg.Performance.PoolWorkers,
		Logger:       logger,
		OnDownloadEvent: func(ev orchestrator.DownloadEvent) {
			if server != nil {
				server.PushDownloadEvent(ev)
			}
		},
	})
	defer orch.Shutdown(context.Background())

	addConfiguredFolders(ctx, cfg, orch, logger)
	orch.StartMaintenance(ctx, 0)

	server = daemon.NewServer(daemonCfg, orch, broadcaster, logger)
	go func() {
		if err := server.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			logger.Error("duplex server stopped", slog.String("error", err.Error()))
		}
	}()

	restServer := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Server.RESTPort),
		Handler: rest.New(orch, logger).Handler(),
	}
	go func() {
		if err := restServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("rest server stopped", slog.String("error", err.Error()))
		}
	}()

	// Periodic uptime tick keeps connected clients' daemon blocks fresh.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				broadcaster.TickUptime()
			}
		}
	}()

	// Reload handling: SIGHUP/SIGUSR1 re-reads configuration and adds any
	// newly configured folders.
	if sigs := reloadSignals(); len(sigs) > 0 {
		reloadCh := make(chan os.Signal, 1)
		signal.Notify(reloadCh, sigs...)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-reloadCh:
					logger.Info("reloading configuration")
					fresh, err := config.Load()
					if err != nil {
						logger.Error("configuration reload failed", slog.String("error", err.Error()))
						continue
					}
					*cfg = *fresh
					addConfiguredFolders(ctx, cfg, orch, logger)
				}
			}
		}()
	}

	out.Successf("daemon listening on %s (rest on :%d)", cfg.Server.SocketPath, cfg.Server.RESTPort)
	<-ctx.Done()

	out.Status("", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), daemonCfg.ShutdownGracePeriod)
	defer cancel()
	_ = restServer.Shutdown(shutdownCtx)
	_ = server.Close()
	return nil
}

// addConfiguredFolders brings every enabled configured folder under
// management; folders already managed are skipped via validation.
func addConfiguredFolders(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, logger *slog.Logger) {
	for _, f := range cfg.Folders {
		if !f.Enabled {
			continue
		}
		settings := settingsFromConfig(cfg, f)
		result, err := orch.AddFolder(ctx, settings)
		if err != nil {
			logger.Warn("failed to add configured folder",
				slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if !result.Valid {
			for _, issue := range result.Errors {
				if issue.Type != orchestrator.ValidationDuplicate {
					logger.Warn("configured folder rejected",
						slog.String("path", f.Path),
						slog.String("kind", issue.Type),
						slog.String("reason", issue.Message))
				}
			}
		}
	}
}
