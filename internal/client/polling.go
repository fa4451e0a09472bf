package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/types"
)

const (
	// DefaultPollInterval is the cadence of job snapshot reads.
	DefaultPollInterval = 2500 * time.Millisecond
	// DefaultMaxPollErrors is how many consecutive failed reads end a subscription.
	DefaultMaxPollErrors = 5
)

// PollingWatcher reads the job snapshot on a fixed interval.
type PollingWatcher struct {
	jobs      JobSource
	interval  time.Duration
	maxErrors int
	logger    *zap.Logger
}

// NewPollingWatcher creates a watcher over jobs. Zero values select the defaults.
func NewPollingWatcher(jobs JobSource, interval time.Duration, logger *zap.Logger) *PollingWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollingWatcher{jobs: jobs, interval: interval, maxErrors: DefaultMaxPollErrors, logger: logger}
}

// WithMaxErrors overrides the consecutive read failure budget.
func (w *PollingWatcher) WithMaxErrors(n int) *PollingWatcher {
	if n > 0 {
		w.maxErrors = n
	}
	return w
}

// Subscribe implements Watcher. The first read happens immediately.
func (w *PollingWatcher) Subscribe(ctx context.Context, jobID uuid.UUID, h Handlers) func() {
	return subscription(ctx, func(ctx context.Context) {
		w.poll(ctx, jobID, h)
	})
}

func (w *PollingWatcher) poll(ctx context.Context, jobID uuid.UUID, h Handlers) {
	log := w.logger.With(zap.String("job_id", jobID.String()))
	keys := NewKeyTracker()
	lastProgress := -1
	failures := 0

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		view, err := w.jobs.GetJob(ctx, jobID)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil && IsNotFound(err):
			h.fail(err)
			return
		case err != nil:
			failures++
			log.Warn("poll failed", zap.Int("consecutive", failures), zap.Error(err))
			if failures >= w.maxErrors {
				h.fail(err)
				return
			}
		default:
			failures = 0
			if done := deliver(view, keys, &lastProgress, h); done {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// deliver emits the changes in view and reports whether the job is terminal.
func deliver(view *types.JobView, keys *KeyTracker, lastProgress *int, h Handlers) bool {
	u := Update{
		JobID:     view.ID,
		Status:    view.Status,
		Progress:  view.Progress,
		NewData:   keys.Diff(view.ReportData),
		ResultURL: view.ResultURL,
	}
	if logs := view.ReportData.Logs(); len(logs) > 0 {
		u.LastMessage = logs[len(logs)-1].Message
	}
	if len(u.NewData) > 0 || u.Progress != *lastProgress {
		h.update(u)
		*lastProgress = u.Progress
	}

	switch view.Status {
	case types.StatusCompleted:
		h.complete(u)
		return true
	case types.StatusFailed:
		h.fail(&JobFailedError{JobID: view.ID, Message: view.ErrorMessage})
		return true
	}
	return false
}
