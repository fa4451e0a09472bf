package jobstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/ux-auditor/internal/types"
)

type record struct {
	mu   sync.Mutex
	job  types.Job
	logs []types.LogEntry
}

// Memory is an in-process Store. Mutations of one job are serialized by a per-job lock.
type Memory struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*record
	now  func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[uuid.UUID]*record), now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the store clock (tests).
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

var _ Store = (*Memory)(nil)

func (m *Memory) get(id uuid.UUID) *record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// CreateJob implements Store.
func (m *Memory) CreateJob(_ context.Context, input types.InputData) (*types.Job, error) {
	now := m.now()
	rec := &record{job: types.Job{
		ID:         uuid.New(),
		Status:     types.StatusPending,
		InputData:  input,
		ReportData: types.ReportData{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}}
	snap := rec.snapshot()
	m.mu.Lock()
	m.jobs[rec.job.ID] = rec
	m.mu.Unlock()
	return snap, nil
}

// GetJob implements Store.
func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*types.Job, error) {
	rec := m.get(id)
	if rec == nil {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(), nil
}

// UpdateStatus implements Store.
func (m *Memory) UpdateStatus(_ context.Context, id uuid.UUID, update StatusUpdate) error {
	rec := m.get(id)
	if rec == nil {
		return ErrNotFound
	}
	patch, err := EncodePatch(update.ReportPatch)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := CheckTransition(rec.job.Status, update.Status); err != nil {
		return err
	}
	now := m.now()
	rec.job.Status = update.Status
	for k, v := range patch {
		rec.job.ReportData[k] = v
	}
	if update.ErrorMessage != "" {
		rec.job.ErrorMessage = update.ErrorMessage
	}
	if update.ResultURL != "" {
		rec.job.ResultURL = update.ResultURL
	}
	if update.Message != "" {
		rec.logs = append(rec.logs, types.LogEntry{Timestamp: now, Message: update.Message})
	}
	rec.job.UpdatedAt = now
	return nil
}

// AppendProgress implements Store.
func (m *Memory) AppendProgress(_ context.Context, id uuid.UUID, message string, partial map[string]any) error {
	rec := m.get(id)
	if rec == nil {
		return ErrNotFound
	}
	patch, err := EncodePatch(partial)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status.IsTerminal() {
		return ErrJobTerminal
	}
	now := m.now()
	rec.logs = append(rec.logs, types.LogEntry{Timestamp: now, Message: message})
	for k, v := range patch {
		rec.job.ReportData[k] = v
	}
	rec.job.UpdatedAt = now
	return nil
}

// GetLogs implements Store.
func (m *Memory) GetLogs(_ context.Context, id uuid.UUID) (*LogsView, error) {
	rec := m.get(id)
	if rec == nil {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return &LogsView{Status: rec.job.Status, Logs: append([]types.LogEntry(nil), rec.logs...)}, nil
}

// SweepStale implements Store.
func (m *Memory) SweepStale(_ context.Context, olderThan time.Duration, reason string) (int, error) {
	if reason == "" {
		reason = InterruptedMessage
	}
	m.mu.RLock()
	recs := make([]*record, 0, len(m.jobs))
	for _, rec := range m.jobs {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	now := m.now()
	cutoff := now.Add(-olderThan)
	swept := 0
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.job.Status.IsTerminal() && rec.job.UpdatedAt.Before(cutoff) {
			rec.job.Status = types.StatusFailed
			rec.job.ErrorMessage = reason
			rec.logs = append(rec.logs, types.LogEntry{Timestamp: now, Message: reason})
			rec.job.UpdatedAt = now
			swept++
		}
		rec.mu.Unlock()
	}
	return swept, nil
}

// snapshot returns a copy of the job with logs folded into reportData. Caller holds rec.mu.
func (r *record) snapshot() *types.Job {
	job := r.job
	job.ReportData = r.job.ReportData.Clone()
	if len(r.logs) > 0 {
		if b, err := json.Marshal(r.logs); err == nil {
			job.ReportData[types.KeyLogs] = b
		}
	}
	return &job
}
