package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/ux-auditor/internal/types"
)

// Update is one observed change of a job.
type Update struct {
	JobID       uuid.UUID
	Status      types.JobStatus
	Progress    int
	LastMessage string
	// NewData holds only the report fields not delivered in an earlier update.
	NewData   map[string]json.RawMessage
	ResultURL string
}

// Handlers receive watcher callbacks. Nil handlers are skipped.
// Callbacks run on the watcher goroutine, one at a time.
type Handlers struct {
	OnUpdate   func(Update)
	OnComplete func(Update)
	OnError    func(error)
}

func (h Handlers) update(u Update) {
	if h.OnUpdate != nil {
		h.OnUpdate(u)
	}
}

func (h Handlers) complete(u Update) {
	if h.OnComplete != nil {
		h.OnComplete(u)
	}
}

func (h Handlers) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Watcher follows a job until it reaches a terminal status or the subscription ends.
// Exactly one of OnComplete or OnError ends a subscription that is not canceled.
type Watcher interface {
	Subscribe(ctx context.Context, jobID uuid.UUID, h Handlers) (unsubscribe func())
}

// JobFailedError is delivered to OnError when the job itself failed.
type JobFailedError struct {
	JobID   uuid.UUID
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("audit %s failed: %s", e.JobID, e.Message)
}

// subscription runs fn on its own goroutine until ctx ends or unsubscribe is called.
func subscription(ctx context.Context, fn func(ctx context.Context)) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		fn(ctx)
	}()
	return cancel
}
