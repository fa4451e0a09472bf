package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/ux-auditor/internal/jobstore"
	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/pipeline"
	"github.com/jonathan/ux-auditor/internal/server"
	"github.com/jonathan/ux-auditor/internal/types"
)

var (
	auditURLs       []string
	auditFiles      []string
	auditCompetitor string
	auditOutput     string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run one audit locally without a server",
	Long: `Run the full pipeline for one audit in this process, printing progress as it goes.
Jobs are kept in memory; use --output to keep the finished report.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringArrayVarP(&auditURLs, "url", "u", nil, "URL to audit (repeatable)")
	auditCmd.Flags().StringArrayVarP(&auditFiles, "file", "f", nil, "Screenshot file to audit (repeatable)")
	auditCmd.Flags().StringVar(&auditCompetitor, "competitor", "", "Competitor URL (enables competitor mode)")
	auditCmd.Flags().StringVarP(&auditOutput, "output", "o", "", "Write the report JSON to this file")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	files := make([][]byte, 0, len(auditFiles))
	for _, path := range auditFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, data)
	}
	input, err := buildInput(auditURLs, files, auditCompetitor)
	if err != nil {
		return fmt.Errorf("invalid audit request: %w", err)
	}
	if len(cfg.AI.Credentials()) == 0 {
		return fmt.Errorf("an AI key is required (set UXA_AI_PRIMARY_KEY or GEMINI_API_KEY)")
	}

	logger, err := observability.NewLogger(cfg.Logging.Log())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := observability.NewPrinter(cmd.OutOrStdout())
	store := jobstore.NewMemory()
	processor, err := newProcessor(ctx, cfg, store, logger, observability.NewMetrics(nil), func(ev pipeline.ProgressEvent) {
		printer.PrintProgress(ev.Progress, ev.Message)
	})
	if err != nil {
		return err
	}

	job, err := store.CreateJob(ctx, input)
	if err != nil {
		return err
	}
	if err := store.AppendProgress(ctx, job.ID, server.QueuedMessage, nil); err != nil {
		return err
	}
	printer.PrintProgress(5, server.QueuedMessage)

	runErr := processor.Process(ctx, job.ID)
	final, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		return err
	}
	printer.PrintJobSummary(final)

	if auditOutput != "" && final.Status == types.StatusCompleted {
		report := final.ReportData.Clone()
		delete(report, types.KeyLogs)
		raw, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		if err := os.WriteFile(auditOutput, raw, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", auditOutput)
	}
	if runErr != nil {
		return fmt.Errorf("audit failed: %w", runErr)
	}
	return nil
}
