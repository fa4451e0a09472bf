package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/jobstore"
	"github.com/jonathan/ux-auditor/internal/observability"
)

var sweepOlderThan time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail jobs interrupted before completion",
	Long: `Mark pending and processing jobs that have not been updated recently as failed.
The server runs the same sweep on startup and on an interval.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "Age threshold (defaults to pipeline.stale_after)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required to sweep stored jobs")
	}
	logger, err := observability.NewLogger(cfg.Logging.Log())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	olderThan := sweepOlderThan
	if olderThan <= 0 {
		olderThan = cfg.Pipeline.StaleAfter
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := store.SweepStale(ctx, olderThan, jobstore.InterruptedMessage)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	logger.Info("sweep finished", zap.Int("swept", n), zap.Duration("older_than", olderThan))
	fmt.Fprintf(cmd.OutOrStdout(), "swept %d job(s)\n", n)
	return nil
}
