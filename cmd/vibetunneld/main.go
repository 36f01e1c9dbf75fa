// Command vibetunneld is the server mode of vibetunnel: it owns the
// session store, spawns PTYs, serves the HTTP/WebSocket API, and
// optionally federates with an HQ or registers remotes of its own.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibetunnel-go/vibetunneld/internal/activity"
	"github.com/vibetunnel-go/vibetunneld/internal/api"
	"github.com/vibetunnel-go/vibetunneld/internal/config"
	"github.com/vibetunnel-go/vibetunneld/internal/controldir"
	"github.com/vibetunnel-go/vibetunneld/internal/federation"
	"github.com/vibetunnel-go/vibetunneld/internal/logger"
	"github.com/vibetunnel-go/vibetunneld/internal/ptysvc"
	"github.com/vibetunnel-go/vibetunneld/internal/session"
	"github.com/vibetunnel-go/vibetunneld/internal/streamwatch"
)

func main() {
	root := &cobra.Command{
		Use:   "vibetunneld",
		Short: "vibetunnel session daemon",
		RunE:  run,
	}
	config.BindFlags(root)
	root.Flags().String("log-level", envOr("VT_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	root.Flags().String("log-file", os.Getenv("VT_LOG_FILE"), "additional log file, empty logs to stdout only")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vibetunneld: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")
	if err := logger.Init(logLevel, logFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := session.NewStore(cfg.ControlPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	if cfg.CleanupOnStart {
		removed, err := store.CleanupExited()
		if err != nil {
			logger.Warn("vibetunneld: cleanup-on-start failed", "err", err)
		} else if len(removed) > 0 {
			logger.Info("vibetunneld: cleanup-on-start removed exited sessions", "count", len(removed))
		}
	}

	bus := session.NewBus()
	supervisor := ptysvc.NewSupervisor(store, bus)
	streams := streamwatch.NewManager()
	monitor := activity.NewMonitor()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trackActivityForExistingSessions(store, monitor)
	trackActivityEvents(bus, store, monitor)
	go monitor.Run(ctx)

	var registry *federation.Registry
	var aggregator *federation.Aggregator
	var notifier controldir.Notifier
	var hqClient *federation.HQClient

	if cfg.HQMode {
		registry = federation.NewRegistry()
		aggregator = federation.NewAggregator(registry, streams, supervisor, federation.WSDialer{})
		go registry.RunHealthChecks(ctx)
	}

	if cfg.IsRemote {
		selfURL := fmt.Sprintf("http://%s:%d", cfg.RemoteName, cfg.Port)
		hqClient = federation.NewHQClient(cfg.HQURL, cfg.HQUsername, cfg.HQPassword, cfg.RemoteName, cfg.RemoteName, selfURL, cfg.RemoteBearerToken)
		notifier = hqClient
		regCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := hqClient.Register(regCtx); err != nil {
			logger.Warn("vibetunneld: hq registration failed, continuing standalone", "err", err)
		}
		cancel()
	}

	dirWatcher, err := controldir.New(store, bus, notifier)
	if err != nil {
		return fmt.Errorf("start control-dir watcher: %w", err)
	}

	router := api.NewRouter(api.Deps{
		Config:     cfg,
		Supervisor: supervisor,
		Streams:    streams,
		Registry:   registry,
		Aggregator: aggregator,
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vibetunneld: listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("vibetunneld: shutting down")
	case err := <-errCh:
		return err
	}

	return shutdown(httpSrv, supervisor, store, dirWatcher, hqClient)
}

// shutdown runs the process-wide teardown order: stop accepting new
// HTTP work, kill every live session, close every watcher, deregister
// from the HQ last.
func shutdown(httpSrv *http.Server, supervisor *ptysvc.Supervisor, store *session.Store, dirWatcher *controldir.Watcher, hqClient *federation.HQClient) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	dirWatcher.Shutdown()
	httpSrv.Shutdown(shutdownCtx)

	sessions, err := store.List()
	if err == nil {
		for _, info := range sessions {
			if info.Status != session.StatusRunning {
				continue
			}
			if err := supervisor.Kill(info.ID, ptysvc.SIGTERM); err != nil {
				logger.Warn("vibetunneld: shutdown kill failed", "session", info.ID, "err", err)
			}
		}
	}

	dirWatcher.Close()

	if hqClient != nil {
		hqClient.Shutdown()
		hqClient.Deregister(shutdownCtx)
	}

	return nil
}

// trackActivityForExistingSessions starts activity tracking for
// every currently-running session found at startup (e.g. after a
// daemon restart that picked up sessions a prior process spawned).
func trackActivityForExistingSessions(store *session.Store, monitor *activity.Monitor) {
	sessions, err := store.List()
	if err != nil {
		return
	}
	for _, info := range sessions {
		if info.Status != session.StatusRunning {
			continue
		}
		paths := store.Paths(info.ID)
		monitor.Track(info.ID, paths.Recording, paths.ActivityFile)
	}
}

// trackActivityEvents starts activity tracking the moment a session
// is created (this process's own spawns and externally-observed
// ones alike) and stops it the moment the session exits.
func trackActivityEvents(bus *session.Bus, store *session.Store, monitor *activity.Monitor) {
	events, _ := bus.Subscribe()
	go func() {
		for ev := range events {
			switch ev.Kind {
			case session.EventCreated:
				paths := store.Paths(ev.SessionID)
				monitor.Track(ev.SessionID, paths.Recording, paths.ActivityFile)
			case session.EventExited:
				monitor.Untrack(ev.SessionID)
			case session.EventBell:
				logger.Info("bell detected", "session", ev.SessionID, "count", ev.BellCount,
					"suspectedPid", ev.SuspectedPID, "suspectedName", ev.SuspectedName)
			}
		}
	}()
}
