package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/server"
	"github.com/jonathan/ux-auditor/internal/server/ratelimit"
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that accepts audit submissions, processes jobs in the background
and serves job snapshots, logs, event streams and finished reports.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Apply database migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger, err := observability.NewLogger(cfg.Logging.Log())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if len(cfg.AI.Credentials()) == 0 {
		return fmt.Errorf("an AI key is required (set UXA_AI_PRIMARY_KEY or GEMINI_API_KEY)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if serveMigrate {
		if err := migrateStore(store, logger); err != nil {
			return err
		}
	}

	processor, err := newProcessor(ctx, cfg, store, logger, metrics, nil)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Store:    store,
		Jobs:     processor,
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: registry,
	}
	if cfg.Widget.Enabled() {
		deps.Widget = server.NewWidgetKeyService(cfg.Widget)
	}
	if cfg.RateLimit.Enabled {
		deps.RateLimiter = ratelimit.NewLimiter(rateLimitConfig(cfg.RateLimit))
	}

	srv := server.New(server.Config{
		Port:               cfg.Server.Port,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        cfg.Server.IdleTimeout,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		EventsInterval:     cfg.Server.EventsInterval,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		StaleAfter:         cfg.Pipeline.StaleAfter,
		StaleSweepInterval: cfg.Pipeline.StaleSweepInterval,
	}, deps)

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.Int("ai_keys", len(cfg.AI.Credentials())),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("database", cfg.Database.URL != ""),
		zap.Bool("widget", deps.Widget != nil),
		zap.Bool("rate_limit", deps.RateLimiter != nil))

	return srv.Run(ctx)
}
