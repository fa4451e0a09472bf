package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/ux-auditor/internal/types"
)

// Outcome is what Resume decided to do with a job.
type Outcome string

const (
	// OutcomeReport means the job had completed and its report was fetched.
	OutcomeReport Outcome = "report"
	// OutcomeFailed means the job had failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeWatching means the job is in flight and a subscription was started.
	OutcomeWatching Outcome = "watching"
)

// Resumption is the result of Resume.
type Resumption struct {
	Outcome      Outcome
	Job          *types.JobView
	Report       *types.ReportView
	ErrorMessage string
	// Unsubscribe ends the watch started for OutcomeWatching. It is a no-op otherwise.
	Unsubscribe func()
}

// Resumer picks up a job by id after a restart or navigation.
type Resumer struct {
	Jobs    JobSource
	Reports ReportSource
	Watcher Watcher
	// Tracker is optional.
	Tracker *Tracker
}

// Resume loads the job and either returns its finished state or starts watching it.
// Watcher updates are folded into the tracker before h sees them.
func (r *Resumer) Resume(ctx context.Context, id uuid.UUID, h Handlers) (*Resumption, error) {
	job, err := r.Jobs.GetJob(ctx, id)
	if err != nil {
		if IsNotFound(err) && r.Tracker != nil {
			r.Tracker.Forget(id)
		}
		return nil, fmt.Errorf("resume %s: %w", id, err)
	}

	switch job.Status {
	case types.StatusCompleted:
		r.forget(id)
		report, err := r.Reports.GetReport(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", id, err)
		}
		return &Resumption{Outcome: OutcomeReport, Job: job, Report: report, Unsubscribe: func() {}}, nil
	case types.StatusFailed:
		r.forget(id)
		return &Resumption{Outcome: OutcomeFailed, Job: job, ErrorMessage: job.ErrorMessage, Unsubscribe: func() {}}, nil
	}

	if r.Tracker != nil {
		r.Tracker.Track(id)
		h = r.trackedHandlers(id, h)
	}
	unsubscribe := r.Watcher.Subscribe(ctx, id, h)
	return &Resumption{Outcome: OutcomeWatching, Job: job, Unsubscribe: unsubscribe}, nil
}

func (r *Resumer) forget(id uuid.UUID) {
	if r.Tracker != nil {
		r.Tracker.Forget(id)
	}
}

func (r *Resumer) trackedHandlers(id uuid.UUID, h Handlers) Handlers {
	return Handlers{
		OnUpdate: func(u Update) {
			r.Tracker.Observe(u)
			h.update(u)
		},
		OnComplete: func(u Update) {
			r.Tracker.Forget(id)
			h.complete(u)
		},
		OnError: func(err error) {
			r.Tracker.Forget(id)
			h.fail(err)
		},
	}
}
