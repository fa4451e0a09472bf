package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/jobstore"
	"github.com/jonathan/ux-auditor/internal/storage"
	"github.com/jonathan/ux-auditor/internal/types"
)

// PublicReport is the artifact written to reports/<id>.json.
type PublicReport struct {
	JobID       string          `json:"jobId"`
	AuditMode   types.AuditMode `json:"auditMode"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt time.Time       `json:"completedAt"`
	Report      map[string]any  `json:"report"`
}

// ResultURL is where the public report of a job is served.
func ResultURL(baseURL, jobID string) string {
	return strings.TrimRight(baseURL, "/") + "/reports/" + jobID
}

// assemble builds the final reportData from the run state.
func (r *run) assemble() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := map[string]any{
		types.KeyScreenshots: r.screenshots(),
		types.KeyMimeType:    r.mimeType,
	}
	if r.primaryURL != "" {
		report[types.KeyURL] = r.primaryURL
	}
	if r.competitor != nil {
		report[types.KeyCompetitorURL] = r.competitor.url
	}
	if r.performanceData != nil {
		report[types.KeyPerformance] = r.performanceData
	}
	if r.performanceError != "" {
		report[types.KeyPerformanceError] = r.performanceError
	}
	for key, res := range r.results {
		report[key] = res
	}
	if r.top5 != nil {
		report[types.KeyTop5Contextual] = r.top5
	}
	return report
}

// finalize retries failed uploads, writes the public artifact, then marks the job completed.
// The completed write is the last mutation of the job.
func (p *Processor) finalize(ctx context.Context, r *run) error {
	start := time.Now()
	p.uploadScreenshots(ctx, r)
	report := r.assemble()

	if err := r.append(ctx, "Finalizing report", map[string]any{
		types.KeyScreenshots: r.screenshots(),
	}); err != nil {
		return err
	}

	p.writeArtifact(ctx, r, report)
	resultURL := ResultURL(p.opts.PublicBaseURL, r.job.ID.String())
	p.deps.Metrics.ObserveStage("finalize", start)

	wctx, cancel := p.terminalContext(ctx)
	defer cancel()
	if err := p.deps.Store.UpdateStatus(wctx, r.job.ID, jobstore.StatusUpdate{
		Status:      types.StatusCompleted,
		ReportPatch: report,
		ResultURL:   resultURL,
		Message:     "Job complete",
	}); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	r.emit("Job complete")
	if p.deps.Metrics != nil {
		p.deps.Metrics.JobsFinished.WithLabelValues(string(types.StatusCompleted), string(r.job.InputData.Mode())).Inc()
	}
	r.log.Info("job completed", zap.String("result_url", resultURL), zap.Duration("elapsed", time.Since(r.started)))
	return nil
}

// writeArtifact stores the public report JSON. Failures are logged; the report
// stays available from the job record.
func (p *Processor) writeArtifact(ctx context.Context, r *run, report map[string]any) {
	if p.deps.Uploader == nil {
		return
	}
	doc := PublicReport{
		JobID:       r.job.ID.String(),
		AuditMode:   r.job.InputData.Mode(),
		CreatedAt:   r.job.CreatedAt,
		CompletedAt: time.Now().UTC(),
		Report:      report,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		r.log.Warn("report artifact encode failed", zap.Error(err))
		return
	}
	key := storage.ReportKey(r.job.ID)
	if _, err := p.deps.Uploader.Upload(ctx, key, b, "application/json"); err != nil {
		r.log.Warn("report artifact upload failed", zap.String("key", key), zap.Error(err))
	}
}
