// Package wait implements condition polling for asynchronously rendered pages.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Default values used when a Config leaves a field at zero.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

// Config bounds a single wait. Errors matching any entry of Ignore (by errors.Is)
// are treated as "not yet satisfied" instead of aborting the wait.
type Config struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Ignore       []error
}

func (c Config) normalized() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Predicate is evaluated on every poll. Returning ok=false means "not yet".
type Predicate[T any] func(ctx context.Context) (value T, ok bool, err error)

// Observer receives the outcome of every finished wait.
type Observer interface {
	ObserveWait(outcome string, elapsed time.Duration, polls int)
}

// Wait outcomes reported to an Observer.
const (
	OutcomeSatisfied = "satisfied"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

// Waiter polls predicates under a fixed Config. It holds no per-wait state and
// is safe for concurrent use.
type Waiter struct {
	cfg      Config
	clock    Clock
	logger   *zap.Logger
	observer Observer
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(w *Waiter) { w.clock = c }
}

// WithLogger attaches a logger for poll progress.
func WithLogger(l *zap.Logger) Option {
	return func(w *Waiter) { w.logger = l }
}

// WithObserver attaches an outcome observer.
func WithObserver(o Observer) Option {
	return func(w *Waiter) { w.observer = o }
}

// New creates a Waiter.
func New(cfg Config, opts ...Option) *Waiter {
	w := &Waiter{
		cfg:    cfg.normalized(),
		clock:  RealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Config returns the effective configuration.
func (w *Waiter) Config() Config { return w.cfg }

// Clock returns the waiter's time source.
func (w *Waiter) Clock() Clock { return w.clock }

// With returns a waiter sharing clock, logger and observer but using cfg.
func (w *Waiter) With(cfg Config) *Waiter {
	clone := *w
	clone.cfg = cfg.normalized()
	return &clone
}

// WithTimeout returns a waiter identical to w except for the timeout.
func (w *Waiter) WithTimeout(d time.Duration) *Waiter {
	cfg := w.cfg
	cfg.Timeout = d
	return w.With(cfg)
}

// Ignorable reports whether err is one of the configured ignorable kinds.
func (w *Waiter) Ignorable(err error) bool {
	for _, kind := range w.cfg.Ignore {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Until polls pred until it is satisfied or the timeout elapses.
func Until[T any](ctx context.Context, w *Waiter, desc string, pred Predicate[T]) (T, error) {
	v, _, err := UntilAny(ctx, w, desc, pred)
	return v, err
}

// UntilAny polls all predicates in order on each tick and returns the value of
// the first one satisfied, along with its index. Later predicates of a tick are
// not evaluated once one succeeds.
func UntilAny[T any](ctx context.Context, w *Waiter, desc string, preds ...Predicate[T]) (T, int, error) {
	var zero T
	if len(preds) == 0 {
		return zero, -1, fmt.Errorf("wait %q: no predicates given", desc)
	}

	cfg := w.cfg
	start := w.clock.Now()
	progress := rate.Sometimes{Interval: time.Second}
	polls := 0
	var lastValue any
	var lastErr error

	for {
		polls++
		for i, pred := range preds {
			v, ok, err := pred(ctx)
			switch {
			case err != nil && !w.Ignorable(err):
				w.finish(OutcomeError, start, polls)
				return zero, -1, err
			case err != nil:
				lastErr = err
			case ok:
				w.finish(OutcomeSatisfied, start, polls)
				return v, i, nil
			default:
				lastValue = v
				lastErr = nil
			}
		}

		elapsed := w.clock.Now().Sub(start)
		if elapsed >= cfg.Timeout {
			w.finish(OutcomeTimeout, start, polls)
			return zero, -1, &TimeoutError{
				Description: desc,
				Elapsed:     elapsed,
				Polls:       polls,
				LastValue:   lastValue,
				LastErr:     lastErr,
			}
		}

		progress.Do(func() {
			w.logger.Debug("Waiting for condition.",
				zap.String("condition", desc),
				zap.Int("polls", polls),
				zap.Duration("elapsed", elapsed),
				zap.NamedError("last_error", lastErr))
		})

		sleep := cfg.PollInterval
		if remaining := cfg.Timeout - elapsed; remaining < sleep {
			sleep = remaining
		}
		if err := Sleep(ctx, w.clock, sleep); err != nil {
			w.finish(OutcomeError, start, polls)
			return zero, -1, fmt.Errorf("wait %q interrupted: %w", desc, err)
		}
	}
}

func (w *Waiter) finish(outcome string, start time.Time, polls int) {
	if w.observer != nil {
		w.observer.ObserveWait(outcome, w.clock.Now().Sub(start), polls)
	}
}
