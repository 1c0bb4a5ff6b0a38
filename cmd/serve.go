package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/grovetools/statesync/cli"
	"github.com/grovetools/statesync/config"
	"github.com/grovetools/statesync/internal/daemon/collector"
	"github.com/grovetools/statesync/internal/daemon/engine"
	"github.com/grovetools/statesync/internal/daemon/pidfile"
	"github.com/grovetools/statesync/internal/daemon/server"
	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/logging"
	"github.com/grovetools/statesync/pkg/daemon"
	"github.com/grovetools/statesync/pkg/paths"
	"github.com/grovetools/statesync/pkg/profiling"
	"github.com/grovetools/statesync/pkg/push"
	"github.com/grovetools/statesync/pkg/signals/journal"
)

// NewServeCmd returns the command that runs the daemon in the foreground.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the statesync daemon",
		Long: `Run the statesync daemon in the foreground.

The daemon hosts sessions, flushes their state trees to push clients and
journals confirmed signal commands so they survive a restart.

Examples:
  # Serve on the default socket
  statesync serve

  # Also listen on TCP with asynchronous signal trees
  statesync serve --listen 127.0.0.1:7420 --signal-mode async

  # Run without a journal
  statesync serve --journal off
`,
		RunE: runServe,
	}

	cmd.Flags().String("socket", "", "Unix socket to listen on")
	cmd.Flags().String("listen", "", "Additional TCP address (host:port)")
	cmd.Flags().String("signal-mode", "", "Signal tree mode [sync, async]")
	cmd.Flags().String("journal", "", "Signal journal path, or 'off'")

	return cmd
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("socket"); v != "" {
		cfg.Server.Socket = v
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Server.Listen = v
	}
	if v, _ := cmd.Flags().GetString("signal-mode"); v != "" {
		cfg.Signals.Mode = v
	}
	if v, _ := cmd.Flags().GetString("journal"); v != "" {
		cfg.Signals.Journal = v
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger("statesyncd")
	if cli.GetOptions(cmd).Verbose {
		logger.Logger.SetLevel(logrus.DebugLevel)
	}

	cfg, cfgPath, err := cli.LoadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create state directories: %w", err)
	}

	// 1. Acquire lock
	pidPath := paths.PidFilePath()
	if err := pidfile.Acquire(pidPath); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := pidfile.Release(pidPath); err != nil {
			logger.Errorf("Failed to release pidfile: %v", err)
		}
	}()

	// 2. Store, journal and engine
	storeOpts := []store.Option{
		store.WithSignalMode(cfg.Signals.Mode),
		store.WithLogger(logger),
	}
	journalPath := cfg.JournalPath()
	if journalPath != "" {
		j, err := journal.Open(journalPath, logger.WithField("journal", journalPath))
		if err != nil {
			return err
		}
		defer j.Close()
		storeOpts = append(storeOpts, store.WithJournal(j))
	}

	st := store.New(storeOpts...)
	defer st.Close()
	restore := profiling.Start("restore sessions")
	restored, err := st.RestoreSessions()
	restore.Stop()
	if err != nil {
		return err
	}
	if restored > 0 {
		logger.WithField("sessions", restored).Info("Restored sessions from journal")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := engine.NewMetrics(reg)

	eng := engine.New(st, metrics, logger)
	eng.Register(collector.NewFlushCollector(cfg.FlushInterval()))
	eng.Register(collector.NewSignalCollector())

	// 3. Server
	socket := socketPath(cfg)
	srv := server.New(logger)
	srv.SetEngine(eng)
	srv.SetRunningConfig(&server.RunningConfig{
		FlushInterval: cfg.FlushInterval(),
		SignalMode:    cfg.Signals.Mode,
		FragmentSize:  cfg.Push.FragmentSize,
		Journal:       journalPath,
		Listen:        cfg.Server.Listen,
		StartedAt:     time.Now(),
	})
	srv.SetPushOptions(push.Options{
		FragmentSize: cfg.Push.FragmentSize,
		WriteTimeout: cfg.WriteTimeout(),
		ReadLimit:    cfg.Push.ReadLimit,
		Logger:       logger.WithField("channel", "push"),
	})
	if cfg.Server.Metrics != nil && *cfg.Server.Metrics {
		srv.SetMetrics(reg, metrics)
	}

	// 4. Signals and run
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return eng.Start(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(socket, cfg.Server.Listen); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if cfgPath != "" && cfg.Server.ConfigWatch != nil && *cfg.Server.ConfigWatch {
		debounce := time.Duration(cfg.Server.ConfigDebounce) * time.Millisecond
		watcher, err := daemon.NewConfigWatcher([]string{filepath.Dir(cfgPath)}, debounce, func(file string) {
			reloadConfig(logger, st, cfg, file)
		})
		if err != nil {
			logger.WithError(err).Warn("Config watching disabled")
		} else {
			g.Go(func() error {
				watcher.Start(gctx)
				return nil
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received stop signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
		return nil
	})

	logger.WithFields(logrus.Fields{
		"pid":         os.Getpid(),
		"signal_mode": cfg.Signals.Mode,
		"journal":     journalPath,
	}).Info("Starting daemon")

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Daemon stopped")
	return nil
}

// reloadConfig re-reads file and tells subscribers about it. Listener and
// journal settings only take effect after a restart.
func reloadConfig(logger *logrus.Entry, st *store.Store, current *config.Config, file string) {
	next, err := config.Load(file)
	if err != nil {
		logger.WithError(err).Warn("Ignoring invalid config change")
		return
	}
	if next.Server.Socket != current.Server.Socket || next.Server.Listen != current.Server.Listen ||
		next.Signals.Mode != current.Signals.Mode || next.JournalPath() != current.JournalPath() {
		logger.Warn("Listener and signal settings changed; restart the daemon to apply them")
	}
	st.BroadcastConfigReload(file)
}

func socketPath(cfg *config.Config) string {
	if cfg.Server.Socket != "" {
		return cfg.Server.Socket
	}
	return paths.SocketPath()
}
