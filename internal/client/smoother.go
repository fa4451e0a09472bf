package client

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultSmoothMinDelay is the tick delay when the display is far behind.
	DefaultSmoothMinDelay = 15 * time.Millisecond
	// DefaultSmoothMaxDelay is the tick delay one step from the target.
	DefaultSmoothMaxDelay = 200 * time.Millisecond
)

// Smoother moves a displayed progress value toward the real target one point at a
// time. The displayed value never exceeds the target and never goes down.
type Smoother struct {
	mu        sync.Mutex
	displayed int
	target    int
	minDelay  time.Duration
	maxDelay  time.Duration
	wake      chan struct{}
}

// NewSmoother returns a smoother starting at zero.
func NewSmoother(minDelay, maxDelay time.Duration) *Smoother {
	if minDelay <= 0 {
		minDelay = DefaultSmoothMinDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultSmoothMaxDelay
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Smoother{minDelay: minDelay, maxDelay: maxDelay, wake: make(chan struct{}, 1)}
}

// SetTarget raises the target. Lower values are ignored.
func (s *Smoother) SetTarget(target int) {
	s.mu.Lock()
	if target > 100 {
		target = 100
	}
	raised := target > s.target
	if raised {
		s.target = target
	}
	s.mu.Unlock()
	if raised {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Tick advances the displayed value by one if it is behind and returns it.
func (s *Smoother) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.displayed < s.target {
		s.displayed++
	}
	return s.displayed
}

// Displayed returns the current displayed value.
func (s *Smoother) Displayed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayed
}

// Target returns the current target.
func (s *Smoother) Target() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// NextDelay is the pause before the next tick. It shrinks as the gap grows.
func (s *Smoother) NextDelay() time.Duration {
	s.mu.Lock()
	gap := s.target - s.displayed
	s.mu.Unlock()
	if gap <= 1 {
		return s.maxDelay
	}
	d := s.maxDelay / time.Duration(gap)
	if d < s.minDelay {
		return s.minDelay
	}
	return d
}

// Run ticks until ctx ends, calling onChange with every new displayed value.
// It sleeps while the display has caught up.
func (s *Smoother) Run(ctx context.Context, onChange func(int)) {
	timer := time.NewTimer(s.NextDelay())
	defer timer.Stop()
	for {
		if s.Displayed() >= s.Target() {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			timer.Reset(s.NextDelay())
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			before := s.Displayed()
			if v := s.Tick(); v != before && onChange != nil {
				onChange(v)
			}
			timer.Reset(s.NextDelay())
		}
	}
}
