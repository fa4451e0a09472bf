// Package retry provides a generic retry combinator with exponential backoff,
// jitter, and server-hint-aware delays.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts is the attempt cap when Options.MaxAttempts is zero.
	DefaultMaxAttempts = 10
	// DefaultBaseDelay is the first backoff window and the delay floor.
	DefaultBaseDelay = 2 * time.Second
	// DefaultMaxDelay caps the exponential window.
	DefaultMaxDelay = 60 * time.Second

	maxLoggedMessage = 200
)

// Options configures one Do invocation.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Label       string
	Logger      *zap.Logger

	// Timer overrides the wait mechanism between attempts (tests).
	Timer backoff.Timer
	// Rand returns a value in [0, 1); defaults to math/rand/v2.
	Rand func() float64
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.Label == "" {
		o.Label = "operation"
	}
	return o
}

// Do invokes op until it succeeds, fails with a non-retriable error, or
// MaxAttempts is exhausted. Attempts are numbered from 1.
// Each call owns its own backoff state, so Do is safe for concurrent use.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With(zap.String("label", opts.Label))

	policy := &jitterPolicy{base: opts.BaseDelay, max: opts.MaxDelay, maxAttempts: opts.MaxAttempts, rand: opts.Rand}

	var result T
	attempt := 0
	operation := func() error {
		attempt++
		v, err := op(ctx, attempt)
		if err == nil {
			result = v
			return nil
		}
		policy.attempt = attempt
		policy.lastErr = err
		if !IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("retriable failure, backing off",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.MaxAttempts),
			zap.Duration("wait", wait),
			zap.String("error", truncate(err.Error())))
	}

	b := backoff.WithContext(policy, ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, opts.Timer); err != nil {
		if attempt >= opts.MaxAttempts && IsRetriable(err) {
			log.Error("retries exhausted",
				zap.Int("attempts", attempt),
				zap.String("error", truncate(err.Error())))
		}
		var zero T
		return zero, err
	}
	return result, nil
}

// jitterPolicy implements backoff.BackOff. The retry loop records the failed
// attempt number and error before asking for the next delay.
type jitterPolicy struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int
	rand        func() float64
	attempt     int
	lastErr     error
}

func (p *jitterPolicy) Reset() {
	p.attempt = 0
	p.lastErr = nil
}

func (p *jitterPolicy) NextBackOff() time.Duration {
	if p.attempt >= p.maxAttempts {
		return backoff.Stop
	}
	if p.lastErr != nil {
		if hint, ok := RetryAfterHint(p.lastErr.Error()); ok {
			return hint + time.Second
		}
	}
	return Delay(p.attempt, p.base, p.max, p.rand())
}

// Delay computes the wait after the given failed attempt: a random point in
// [0, min(maxDelay, base*2^(attempt-1))] raised to a floor of base.
func Delay(attempt int, base, maxDelay time.Duration, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := float64(base) * math.Pow(2, float64(attempt-1))
	if ceiling > float64(maxDelay) {
		ceiling = float64(maxDelay)
	}
	floor := math.Min(float64(base), ceiling)
	d := r * ceiling
	if d < floor {
		d = floor
	}
	return time.Duration(d)
}

// truncate cuts s to at most maxLoggedMessage bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxLoggedMessage {
		return s
	}
	n := maxLoggedMessage
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// immediateTimer is a backoff.Timer that fires as soon as it is started.
type immediateTimer struct {
	c chan time.Time
}

// Immediate returns a timer that skips every wait. Each Do call needs its own.
func Immediate() backoff.Timer {
	return &immediateTimer{c: make(chan time.Time, 1)}
}

func (t *immediateTimer) Start(time.Duration) {
	select {
	case t.c <- time.Now():
	default:
	}
}

func (t *immediateTimer) Stop() {}

func (t *immediateTimer) C() <-chan time.Time { return t.c }
