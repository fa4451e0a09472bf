// Package pipeline runs audit jobs through scraping, expert analysis and finalization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/fetch"
	"github.com/jonathan/ux-auditor/internal/jobstore"
	"github.com/jonathan/ux-auditor/internal/llm"
	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/pool"
	"github.com/jonathan/ux-auditor/internal/storage"
	"github.com/jonathan/ux-auditor/internal/types"
)

const (
	// DefaultBatchSize is how many experts run concurrently.
	DefaultBatchSize = 3
	// DefaultBatchPause separates expert batches.
	DefaultBatchPause = 1 * time.Second
	// DefaultTerminalWriteTimeout bounds the final status write.
	DefaultTerminalWriteTimeout = 15 * time.Second
)

// ProgressEvent is emitted for every log line a job writes.
type ProgressEvent struct {
	JobID    uuid.UUID `json:"jobId"`
	Message  string    `json:"message"`
	Progress int       `json:"progress"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// AI performs one structured AI call.
type AI interface {
	Call(ctx context.Context, credentials []string, req llm.Request) (map[string]any, error)
}

// Deps are the collaborators of a Processor. Browsers and Metrics may be nil.
type Deps struct {
	Store       jobstore.Store
	Scraper     fetch.Scraper
	Performance fetch.PerformanceChecker
	AI          AI
	Uploader    storage.Uploader
	Browsers    *pool.Pool[string]
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// Options tune a Processor.
type Options struct {
	Credentials          []string
	BatchSize            int
	BatchPause           time.Duration
	PublicBaseURL        string
	TerminalWriteTimeout time.Duration
	OnProgress           ProgressCallback
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchPause < 0 {
		o.BatchPause = 0
	}
	if o.TerminalWriteTimeout <= 0 {
		o.TerminalWriteTimeout = DefaultTerminalWriteTimeout
	}
	return o
}

// Processor owns the mutation of the jobs it runs. One goroutine per job.
type Processor struct {
	deps Deps
	opts Options
	wg   sync.WaitGroup
}

// New creates a processor.
func New(deps Deps, opts Options) *Processor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Processor{deps: deps, opts: opts.withDefaults()}
}

// Start processes a job in the background.
func (p *Processor) Start(ctx context.Context, jobID uuid.UUID) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Process(ctx, jobID); err != nil {
			p.deps.Logger.Warn("job finished with error", zap.String("job_id", jobID.String()), zap.Error(err))
		}
	}()
}

// Wait blocks until every started job has returned.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Process runs a pending job to a terminal status. The returned error is the failure
// recorded on the job, or a reason the job could not be claimed.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) (err error) {
	job, err := p.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("load job %s: %w", jobID, jobstore.ErrNotFound)
	}

	r := newRun(p, job)
	if err := p.deps.Store.UpdateStatus(ctx, jobID, jobstore.StatusUpdate{
		Status:  types.StatusProcessing,
		Message: "Processing started",
	}); err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	r.emit("Processing started")
	if p.deps.Metrics != nil {
		p.deps.Metrics.JobsStarted.Inc()
	}
	r.log.Info("job processing started", zap.String("mode", string(job.InputData.Mode())), zap.Int("inputs", len(job.InputData.Inputs)))

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("pipeline panic", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", rec)
		}
		if err != nil {
			p.fail(ctx, r, err)
		}
	}()

	if job.InputData.Mode() == types.ModeCompetitor {
		err = p.runCompetitor(ctx, r)
	} else {
		err = p.runStandard(ctx, r)
	}
	if err != nil {
		return err
	}
	return p.finalize(ctx, r)
}

func (p *Processor) runStandard(ctx context.Context, r *run) error {
	if err := p.captureStandard(ctx, r); err != nil {
		return err
	}
	if r.primaryURL != "" {
		if err := p.checkPerformance(ctx, r); err != nil {
			return err
		}
	}
	if err := p.runExperts(ctx, r, StandardExperts); err != nil {
		return err
	}
	return p.rerank(ctx, r)
}

func (p *Processor) runCompetitor(ctx context.Context, r *run) error {
	if err := p.captureCompetitor(ctx, r); err != nil {
		return err
	}
	return p.runCompetitorExpert(ctx, r)
}

// terminalContext survives cancellation of the job context so the last write lands.
func (p *Processor) terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.opts.TerminalWriteTimeout)
}

func (p *Processor) fail(ctx context.Context, r *run, cause error) {
	wctx, cancel := p.terminalContext(ctx)
	defer cancel()

	msg := cause.Error()
	err := p.deps.Store.UpdateStatus(wctx, r.job.ID, jobstore.StatusUpdate{
		Status:       types.StatusFailed,
		ErrorMessage: msg,
		Message:      "Audit failed: " + observability.Truncate(msg, 300),
	})
	if err != nil && !errors.Is(err, jobstore.ErrJobTerminal) {
		r.log.Error("failed to record job failure", zap.Error(err), zap.String("cause", msg))
	}
	r.emit("Audit failed: " + msg)
	if p.deps.Metrics != nil {
		p.deps.Metrics.JobsFinished.WithLabelValues(string(types.StatusFailed), string(r.job.InputData.Mode())).Inc()
	}
	r.log.Warn("job failed", zap.String("error", msg), zap.Duration("elapsed", time.Since(r.started)))
}
