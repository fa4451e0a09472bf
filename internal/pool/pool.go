// Package pool hands out exclusive leases on a finite set of shared resources,
// such as remote browser endpoints, and keeps an audit trail of lease activity.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultAuditSize is the number of lease events retained in memory.
const DefaultAuditSize = 256

// ErrEmpty is returned when a pool is built without resources.
var ErrEmpty = errors.New("pool has no resources")

// EventKind is the type of a lease event.
type EventKind string

const (
	EventAcquire EventKind = "acquire"
	EventRelease EventKind = "release"
	EventTimeout EventKind = "timeout"
)

// Event is one entry of the audit trail.
type Event struct {
	Kind     EventKind     `json:"kind"`
	Resource string        `json:"resource"`
	Owner    string        `json:"owner"`
	At       time.Time     `json:"at"`
	Held     time.Duration `json:"held,omitempty"`
	Waited   time.Duration `json:"waited,omitempty"`
}

// Pool is a fixed set of resources leased one holder at a time.
type Pool[T any] struct {
	name   string
	free   chan T
	size   int
	label  func(T) string
	logger *zap.Logger

	mu    sync.Mutex
	ring  []Event
	next  int
	total int
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithLogger sets the logger for lease events.
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(p *Pool[T]) { p.logger = logger }
}

// WithLabel sets how a resource is named in events.
func WithLabel[T any](label func(T) string) Option[T] {
	return func(p *Pool[T]) { p.label = label }
}

// WithAuditSize sets how many events are retained.
func WithAuditSize[T any](n int) Option[T] {
	return func(p *Pool[T]) {
		if n > 0 {
			p.ring = make([]Event, n)
		}
	}
}

// New creates a pool holding resources.
func New[T any](name string, resources []T, opts ...Option[T]) (*Pool[T], error) {
	if len(resources) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	p := &Pool[T]{
		name:   name,
		free:   make(chan T, len(resources)),
		size:   len(resources),
		label:  func(r T) string { return fmt.Sprint(r) },
		logger: zap.NewNop(),
		ring:   make([]Event, DefaultAuditSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, r := range resources {
		p.free <- r
	}
	return p, nil
}

// Lease is exclusive use of one resource until Release.
type Lease[T any] struct {
	Resource T

	pool       *Pool[T]
	owner      string
	acquiredAt time.Time
	released   atomic.Bool
}

// Acquire blocks until a resource is free or ctx is done.
func (p *Pool[T]) Acquire(ctx context.Context, owner string) (*Lease[T], error) {
	start := time.Now()
	select {
	case r := <-p.free:
		now := time.Now()
		lease := &Lease[T]{Resource: r, pool: p, owner: owner, acquiredAt: now}
		waited := now.Sub(start)
		p.record(Event{Kind: EventAcquire, Resource: p.label(r), Owner: owner, At: now, Waited: waited})
		p.logger.Debug("resource acquired",
			zap.String("pool", p.name),
			zap.String("resource", p.label(r)),
			zap.String("owner", owner),
			zap.Duration("waited", waited))
		return lease, nil
	case <-ctx.Done():
		p.record(Event{Kind: EventTimeout, Owner: owner, At: time.Now(), Waited: time.Since(start)})
		p.logger.Warn("resource acquire abandoned",
			zap.String("pool", p.name),
			zap.String("owner", owner),
			zap.Error(ctx.Err()))
		return nil, fmt.Errorf("acquire from %s: %w", p.name, ctx.Err())
	}
}

// Release returns the resource to the pool. Extra calls are no-ops.
func (l *Lease[T]) Release() {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}
	p := l.pool
	held := time.Since(l.acquiredAt)
	p.free <- l.Resource
	p.record(Event{Kind: EventRelease, Resource: p.label(l.Resource), Owner: l.owner, At: time.Now(), Held: held})
	p.logger.Debug("resource released",
		zap.String("pool", p.name),
		zap.String("resource", p.label(l.Resource)),
		zap.String("owner", l.owner),
		zap.Duration("held", held))
}

// Size returns the number of resources.
func (p *Pool[T]) Size() int { return p.size }

// Available returns the number of free resources.
func (p *Pool[T]) Available() int { return len(p.free) }

func (p *Pool[T]) record(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ring[p.next] = e
	p.next = (p.next + 1) % len(p.ring)
	p.total++
}

// Events returns retained events, oldest first.
func (p *Pool[T]) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.total
	if n > len(p.ring) {
		n = len(p.ring)
	}
	out := make([]Event, 0, n)
	start := (p.next - n + len(p.ring)) % len(p.ring)
	for i := 0; i < n; i++ {
		out = append(out, p.ring[(start+i)%len(p.ring)])
	}
	return out
}
