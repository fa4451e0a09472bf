package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/progress"
	"github.com/jonathan/ux-auditor/internal/types"
)

// NudgeCap is the highest value the confidence nudge reaches on its own.
const NudgeCap = 90

// DefaultNudgeInterval is the cadence of RunNudger.
const DefaultNudgeInterval = 3 * time.Second

// Audit is the in-flight state of one tracked job.
type Audit struct {
	JobID       uuid.UUID       `json:"jobId"`
	Status      types.JobStatus `json:"status"`
	Progress    int             `json:"progress"`
	LastMessage string          `json:"lastMessage,omitempty"`
	// RealMessages is set once the job reported a stage message past queueing.
	// Nudging stops from then on.
	RealMessages bool      `json:"realMessages"`
	StartedAt    time.Time `json:"startedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Tracker holds in-flight audits keyed by job id. Every mutation is persisted, and
// audits leave the tracker once they reach a terminal status.
type Tracker struct {
	mu        sync.Mutex
	audits    map[uuid.UUID]*Audit
	persister Persister
	logger    *zap.Logger
	now       func() time.Time
}

// NewTracker creates a tracker. A nil persister keeps state in memory only.
func NewTracker(persister Persister, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		audits:    make(map[uuid.UUID]*Audit),
		persister: persister,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Hydrate replaces in-memory state with the persisted audits. Terminal entries left
// behind by a crash are dropped.
func (t *Tracker) Hydrate() error {
	if t.persister == nil {
		return nil
	}
	audits, err := t.persister.Load()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audits = make(map[uuid.UUID]*Audit, len(audits))
	for i := range audits {
		a := audits[i]
		if a.Status.IsTerminal() {
			continue
		}
		t.audits[a.JobID] = &a
	}
	t.logger.Debug("tracker hydrated", zap.Int("audits", len(t.audits)))
	return nil
}

// Track starts tracking a newly submitted or resumed job. Existing entries are kept.
func (t *Tracker) Track(id uuid.UUID) Audit {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.audits[id]; ok {
		return *a
	}
	now := t.now()
	a := &Audit{JobID: id, Status: types.StatusPending, StartedAt: now, UpdatedAt: now}
	t.audits[id] = a
	t.persistLocked()
	return *a
}

// Observe folds a watcher update into the tracked audit. Progress never decreases.
// A terminal status removes the audit.
func (t *Tracker) Observe(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.audits[u.JobID]
	if !ok {
		return
	}
	if u.Status.IsTerminal() {
		delete(t.audits, u.JobID)
		t.persistLocked()
		return
	}
	if u.Status != "" {
		a.Status = u.Status
	}
	if u.Progress > a.Progress {
		a.Progress = u.Progress
	}
	if u.LastMessage != "" {
		a.LastMessage = u.LastMessage
		if progress.MessageToProgress(u.LastMessage, 0) > progress.MessageToProgress("queued", 0) {
			a.RealMessages = true
		}
	}
	a.UpdatedAt = t.now()
	t.persistLocked()
}

// Forget stops tracking id.
func (t *Tracker) Forget(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.audits[id]; !ok {
		return
	}
	delete(t.audits, id)
	t.persistLocked()
}

// Get returns the tracked audit for id.
func (t *Tracker) Get(id uuid.UUID) (Audit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.audits[id]
	if !ok {
		return Audit{}, false
	}
	return *a, true
}

// InFlight returns the tracked audits, oldest first.
func (t *Tracker) InFlight() []Audit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Nudge raises the progress of an audit that has not reported real messages yet.
// Steps shrink near NudgeCap, which is never exceeded. It returns the new value and
// whether it changed.
func (t *Tracker) Nudge(id uuid.UUID) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.audits[id]
	if !ok || a.RealMessages || a.Progress >= NudgeCap {
		if ok {
			return a.Progress, false
		}
		return 0, false
	}
	a.Progress = nudgeStep(a.Progress)
	a.UpdatedAt = t.now()
	t.persistLocked()
	return a.Progress, true
}

func nudgeStep(p int) int {
	step := (NudgeCap - p) / 10
	if step < 1 {
		step = 1
	}
	if p+step > NudgeCap {
		return NudgeCap
	}
	return p + step
}

// RunNudger nudges every tracked audit on interval until ctx ends.
func (t *Tracker) RunNudger(ctx context.Context, interval time.Duration, onNudge func(id uuid.UUID, progress int)) {
	if interval <= 0 {
		interval = DefaultNudgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, a := range t.InFlight() {
				if p, changed := t.Nudge(a.JobID); changed && onNudge != nil {
					onNudge(a.JobID, p)
				}
			}
		}
	}
}

func (t *Tracker) snapshotLocked() []Audit {
	out := make([]Audit, 0, len(t.audits))
	for _, a := range t.audits {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].JobID.String() < out[j].JobID.String()
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (t *Tracker) persistLocked() {
	if t.persister == nil {
		return
	}
	if err := t.persister.Save(t.snapshotLocked()); err != nil {
		t.logger.Warn("failed to persist tracked audits", zap.Error(err))
	}
}
