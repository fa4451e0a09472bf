package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/config"
	"github.com/jonathan/ux-auditor/internal/db"
	"github.com/jonathan/ux-auditor/internal/fetch"
	"github.com/jonathan/ux-auditor/internal/jobstore"
	"github.com/jonathan/ux-auditor/internal/llm"
	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/pipeline"
	"github.com/jonathan/ux-auditor/internal/pool"
	"github.com/jonathan/ux-auditor/internal/server/ratelimit"
	"github.com/jonathan/ux-auditor/internal/storage"
)

// openStore returns the Postgres store when a database URL is configured and the
// in-memory store otherwise. The close func is always safe to call.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (jobstore.Store, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, jobs are kept in memory")
		return jobstore.NewMemory(), func() {}, nil
	}
	database, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, database.Close, nil
}

// newUploader builds the artifact uploader for the configured driver.
func newUploader(ctx context.Context, cfg *config.Config) (storage.Uploader, error) {
	if cfg.Storage.Driver == "s3" {
		up, err := storage.NewS3Uploader(ctx, cfg.Storage.S3())
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 uploader: %w", err)
		}
		return up, nil
	}
	base := cfg.Storage.PublicBaseURL
	if base == "" {
		base = cfg.Server.PublicBaseURL + "/artifacts"
	}
	return storage.NewMemoryUploader(base), nil
}

// newGenerator builds the AI generator for the configured provider.
func newGenerator(cfg *config.Config) llm.Generator {
	models := cfg.AI.Models()
	if models.Provider == llm.ProviderOpenAI && cfg.AI.BaseURL != "" {
		return llm.NewOpenAIGenerator(models).WithBaseURL(cfg.AI.BaseURL)
	}
	return llm.NewGenerator(models)
}

// newBrowserPool leases remote DevTools endpoints, or local Chrome slots marked by
// empty endpoints.
func newBrowserPool(cfg *config.Config, logger *zap.Logger) (*pool.Pool[string], error) {
	endpoints := cfg.Scrape.BrowserEndpoints
	if len(endpoints) == 0 {
		endpoints = make([]string, cfg.Scrape.LocalBrowsers)
	}
	return pool.New("browsers", endpoints,
		pool.WithLogger[string](logger),
		pool.WithLabel(func(endpoint string) string {
			if endpoint == "" {
				return "local"
			}
			return endpoint
		}),
	)
}

// newProcessor wires the pipeline against store.
func newProcessor(ctx context.Context, cfg *config.Config, store jobstore.Store, logger *zap.Logger, metrics *observability.Metrics, onProgress pipeline.ProgressCallback) (*pipeline.Processor, error) {
	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		return nil, err
	}
	browsers, err := newBrowserPool(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser pool: %w", err)
	}
	adapter := llm.NewAdapter(newGenerator(cfg), cfg.AI.Policy(), logger, metrics)

	deps := pipeline.Deps{
		Store:    store,
		Scraper:  fetch.NewChromeScraper(logger, cfg.Scrape.NavigationTimeout),
		AI:       adapter,
		Uploader: uploader,
		Browsers: browsers,
		Logger:   logger,
		Metrics:  metrics,
	}
	if cfg.Scrape.PerformanceEnabled {
		checker, err := fetch.NewPageSpeedChecker(ctx, cfg.Scrape.PageSpeedAPIKey, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create performance checker: %w", err)
		}
		deps.Performance = checker
	}

	return pipeline.New(deps, pipeline.Options{
		Credentials:          cfg.AI.Credentials(),
		BatchSize:            cfg.Pipeline.BatchSize,
		BatchPause:           cfg.Pipeline.BatchPause,
		PublicBaseURL:        cfg.Server.PublicBaseURL,
		TerminalWriteTimeout: cfg.Pipeline.TerminalWriteTimeout,
		OnProgress:           onProgress,
	}), nil
}

// rateLimitConfig converts the configured limits.
func rateLimitConfig(cfg config.RateLimitConfig) *ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	rl.Enabled = cfg.Enabled
	if cfg.DefaultLimit > 0 {
		rl.DefaultLimit = cfg.DefaultLimit
	}
	if cfg.DefaultWindow > 0 {
		rl.DefaultWindow = cfg.DefaultWindow
	}
	rl.CleanupInterval = cfg.CleanupInterval
	rl.Whitelist = ratelimit.ParseIPList(cfg.Whitelist)
	rl.Blacklist = ratelimit.ParseIPList(cfg.Blacklist)
	rl.EndpointConfigs = ratelimit.DefaultEndpointConfigs(cfg.SubmitLimit, cfg.SubmitWindow, cfg.SubmitBurst)
	return rl
}
