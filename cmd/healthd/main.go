package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kindredcircl/healthd/internal/alert"
	"github.com/kindredcircl/healthd/internal/config"
	"github.com/kindredcircl/healthd/internal/dashboard"
	"github.com/kindredcircl/healthd/internal/health"
	"github.com/kindredcircl/healthd/internal/logging"
	"github.com/kindredcircl/healthd/internal/metrics"
	"github.com/kindredcircl/healthd/internal/probe"
	"github.com/kindredcircl/healthd/internal/registry"
	"github.com/kindredcircl/healthd/internal/scheduler"
	"github.com/kindredcircl/healthd/internal/server"
	"github.com/kindredcircl/healthd/internal/storage"
	"github.com/kindredcircl/healthd/internal/version"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "healthd",
		Short:        "Health-check scheduling and alerting engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "settings.yaml", "config file path")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(statusCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("healthd %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the health monitor",
		RunE:  runServe,
	}
}

func loadConfig() (*config.Config, error) {
	// .env values become HEALTH_* overrides; a missing file is fine.
	_ = godotenv.Load()
	return config.Load(cfgFile)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load config
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// 2. Build logger
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	logger.Info("config loaded", "targets", len(cfg.Targets))

	// 3. Open SQLite
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// 4. Build core components
	evaluator := health.NewEvaluator(logger)
	aggregator := metrics.NewAggregator(cfg.Metrics.Window.Duration, cfg.Metrics.Retain, logger)
	aggregator.SetOnRotate(func(w metrics.Window) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.InsertWindow(ctx, w); err != nil {
			logger.Error("storing metrics window", "target", w.TargetID, "error", err)
		}
	})

	var sinks []alert.Notifier
	if s := alert.NewSlack(cfg.Alerts.SlackWebhook); s != nil {
		sinks = append(sinks, s)
	}
	if wh := alert.NewWebhook(cfg.Alerts.WebhookURL); wh != nil {
		sinks = append(sinks, wh)
	}
	dispatcher := alert.NewDispatcher(cfg.Alerts.Suppression.Duration, logger, sinks...)

	sched := scheduler.New(func(t registry.Target) (probe.Prober, error) {
		return probe.New(t)
	}, cfg.Health.RetryBackoff.Duration, logger)

	sched.SetOnOutcome(func(t registry.Target, out probe.Outcome) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := db.InsertOutcome(ctx, out); err != nil {
			logger.Error("storing probe outcome", "target", t.ID, "error", err)
		}
		aggregator.Record(out)

		_, ev := evaluator.Evaluate(out, t.FailureThreshold)
		if ev != nil {
			if err := db.InsertTransition(ctx, *ev); err != nil {
				logger.Error("storing transition", "target", t.ID, "error", err)
			}
			// Deliveries are async; detach them from this outcome's deadline.
			dispatcher.Dispatch(context.WithoutCancel(ctx), *ev)
		}
	})

	// 5. Wire the registry to the scheduler and state owners
	reg := registry.New(registry.DefaultsFromConfig(cfg))
	reg.SetHooks(
		func(t registry.Target) {
			aggregator.Track(t.ID)
			if err := sched.Add(t); err != nil {
				logger.Error("scheduling target", "target", t.ID, "error", err)
			}
		},
		func(id string) {
			sched.Remove(id)
			evaluator.Retire(id)
			aggregator.Retire(id)
		},
	)

	// 6. Register configured and built-in targets
	for _, t := range registry.FromConfig(cfg) {
		if _, err := reg.Register(t); err != nil {
			return fmt.Errorf("registering target: %w", err)
		}
	}
	logger.Info("targets registered", "count", reg.Len())

	// 7. Build API server and mount routes on a single mux
	apiServer := server.New(reg, evaluator, aggregator, db, logger)
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Router())
	mux.Handle("/", dashboard.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
	}

	// 8. Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 9. Start scheduling and window rotation
	sched.Start(ctx)
	go aggregator.Run(ctx)
	logger.Info("scheduler started", "targets", reg.Len())

	// 10. Start HTTP server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// 11. Wait for signal or server error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	// 12. Graceful shutdown
	sched.Wait()
	dispatcher.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a one-off check of all configured targets",
		RunE:  runCheckCmd,
	}
}

func runCheckCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return executeCheck(cmd, cfg)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print current target status from the database",
		RunE:  runStatusCmd,
	}
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return executeStatus(cmd, db)
}
