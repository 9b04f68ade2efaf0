// eigentd is the Eigent background trigger-execution coordinator daemon.
// It receives fired trigger executions from the remote backend, runs them as
// background chat tasks one per project, and serves the activity history to
// the desktop shell.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/eigent-ai/eigentd/internal/activity"
	"github.com/eigent-ai/eigentd/internal/chat"
	"github.com/eigent-ai/eigentd/internal/config"
	"github.com/eigent-ai/eigentd/internal/coordinator"
	"github.com/eigent-ai/eigentd/internal/db"
	"github.com/eigent-ai/eigentd/internal/execution"
	"github.com/eigent-ai/eigentd/internal/notify"
	"github.com/eigent-ai/eigentd/internal/project"
	"github.com/eigent-ai/eigentd/internal/server"
	"github.com/eigent-ai/eigentd/internal/stream"
)

func main() {
	var (
		flagAddr     string
		flagBackend  string
		flagDB       string
		flagConfig   string
		flagHooksDir string
		flagInterval time.Duration
	)

	root := &cobra.Command{
		Use:          "eigentd",
		Short:        "Eigent background trigger-execution coordinator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flagAddr, flagBackend, flagDB, flagConfig, flagHooksDir, flagInterval)
		},
	}

	root.Flags().StringVar(&flagAddr, "addr", "", "HTTP API address (default from config)")
	root.Flags().StringVar(&flagBackend, "backend", "", "Backend base URL (default from config)")
	root.Flags().StringVar(&flagDB, "db", "", "Database path (default from config)")
	root.Flags().StringVar(&flagConfig, "config", "", "Config file path (default: ~/.config/eigent/eigentd.yml)")
	root.Flags().StringVar(&flagHooksDir, "hooks-dir", "", "Notification hook scripts directory")
	root.Flags().DurationVar(&flagInterval, "interval", 0, "Coordinator poll interval (default from config)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, addr, backendURL, dbPath, configPath, hooksDir string, interval time.Duration) error {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "eigentd",
	})

	if configPath == "" {
		configPath = config.FindConfigFile(config.DefaultDir())
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}

	// Flags win over config file.
	if addr != "" {
		cfg.Addr = addr
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if hooksDir != "" {
		cfg.HooksDir = hooksDir
	}
	if interval <= 0 {
		interval, _ = cfg.Interval()
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("Failed to open database", "error", err)
	}
	defer database.Close()
	logger.Info("Database opened", "path", cfg.DBPath)

	// Stores, seeded from the database.
	projects := project.NewStore(database)
	projects.SetLogger(logger)
	if seeded, err := database.LoadProjects(); err != nil {
		logger.Error("Failed to load projects", "error", err)
	} else {
		projects.Seed(seeded)
	}

	activityLog := activity.New(database)
	if entries, err := database.LoadActivity(activity.MaxEntries); err != nil {
		logger.Error("Failed to load activity", "error", err)
	} else {
		activityLog.Seed(entries)
	}

	streams := stream.NewRegistry()
	streams.SetLogger(logger)

	runner := execution.NewRunner(cfg.BackendURL, streams, logger)
	chats := chat.NewStores(runner)
	chats.SetLogger(logger)
	for _, p := range projects.AllProjects() {
		chats.Ensure(p.ID)
	}

	backend := execution.NewClient(cfg.BackendURL)
	backend.SetLogger(logger)

	coord := coordinator.New(coordinator.Options{
		Projects: projects,
		Chats: func(projectID string) coordinator.ChatStore {
			if st := chats.ChatStore(projectID); st != nil {
				return st
			}
			return nil
		},
		Streams:  streams,
		Backend:  backend,
		Activity: activityLog,
		Notifier: notify.New(cfg.HooksDir),
		Logger:   logger,
		Interval: interval,
	})

	srv := server.New(server.Config{
		Addr:        cfg.Addr,
		Projects:    projects,
		Chats:       chats,
		Activity:    activityLog,
		Coordinator: coord,
	})

	logger.Info("Starting eigentd",
		"addr", cfg.Addr,
		"backend", cfg.BackendURL,
		"db", cfg.DBPath,
		"interval", interval,
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	coord.Start(ctx)

	// Hot-reload: the poll interval applies live; other changes need a
	// restart.
	if configPath != "" {
		watcher, err := config.Watch(configPath, logger, func(next *config.Config) {
			if d, err := next.Interval(); err == nil {
				coord.SetInterval(d)
			}
		})
		if err != nil {
			logger.Error("Config watch unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("HTTP API listening", "addr", cfg.Addr)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server error", "error", err)
		}
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", "signal", sig)
		coord.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}
	return nil
}
