// Package jobstore defines the durable job record contract and an in-memory implementation.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/ux-auditor/internal/types"
)

var (
	// ErrNotFound is returned when mutating a job that does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for a status change that is not forward.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrJobTerminal is returned when mutating a job that already completed or failed.
	ErrJobTerminal = errors.New("job already in a terminal status")
)

// InterruptedMessage is the failure reason written by the stale sweep.
const InterruptedMessage = "job interrupted before completion"

// StatusUpdate is one status change with the fields written alongside it.
type StatusUpdate struct {
	Status types.JobStatus
	// ReportPatch fields are shallow-merged into reportData.
	ReportPatch  map[string]any
	ErrorMessage string
	ResultURL    string
	// Message, when set, is appended to the logs in the same write.
	Message string
}

// LogsView is the status and log list of a job.
type LogsView struct {
	Status types.JobStatus
	Logs   []types.LogEntry
}

// Store persists audit jobs. Only a job's processor mutates it.
type Store interface {
	CreateJob(ctx context.Context, input types.InputData) (*types.Job, error)
	// GetJob returns nil, nil when the job does not exist.
	GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) error
	// AppendProgress atomically appends one log entry and merges partial into reportData.
	AppendProgress(ctx context.Context, id uuid.UUID, message string, partial map[string]any) error
	// GetLogs returns nil, nil when the job does not exist.
	GetLogs(ctx context.Context, id uuid.UUID) (*LogsView, error)
	// SweepStale fails non-terminal jobs not updated within olderThan.
	SweepStale(ctx context.Context, olderThan time.Duration, reason string) (int, error)
}

// EncodePatch marshals patch values for storage. The logs key is dropped since it
// is only written through log appends.
func EncodePatch(patch map[string]any) (types.ReportData, error) {
	out := make(types.ReportData, len(patch))
	for k, v := range patch {
		if k == types.KeyLogs {
			continue
		}
		if raw, ok := v.(json.RawMessage); ok {
			out[k] = raw
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode report field %q: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

// CheckTransition validates moving a job from current to next.
func CheckTransition(current, next types.JobStatus) error {
	if current.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, current)
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	return nil
}
