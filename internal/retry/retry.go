// Package retry provides a bounded, fixed-interval polling primitive.
//
// It replaces ad-hoc sleep loops with an explicit policy (interval, attempt
// budget, classification function) driven by an injectable clock, so callers
// and tests never depend on real time elapsing.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrBudgetExhausted is returned by Poll when every attempt reported "not
// done" and the attempt budget ran out.
var ErrBudgetExhausted = errors.New("retry: attempt budget exhausted")

// CheckFunc is invoked once per attempt. Returning done=true stops polling
// successfully. Returning a non-nil error stops polling immediately and
// propagates the error; Poll never retries past an error.
type CheckFunc func(ctx context.Context, attempt int) (done bool, err error)

// Policy describes a bounded fixed-interval poll. The zero value is not
// usable; construct with NewPolicy.
type Policy struct {
	interval    time.Duration
	maxAttempts int
	clock       clockwork.Clock
}

// NewPolicy builds a Policy waiting interval between attempts, for at most
// maxAttempts attempts. A nil clock defaults to the real clock.
func NewPolicy(interval time.Duration, maxAttempts int, clock clockwork.Clock) (Policy, error) {
	if interval <= 0 {
		return Policy{}, fmt.Errorf("retry: interval must be positive, got %s", interval)
	}
	if maxAttempts <= 0 {
		return Policy{}, fmt.Errorf("retry: max attempts must be positive, got %d", maxAttempts)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Policy{interval: interval, maxAttempts: maxAttempts, clock: clock}, nil
}

// Interval returns the configured wait between attempts.
func (p Policy) Interval() time.Duration { return p.interval }

// MaxAttempts returns the configured attempt budget.
func (p Policy) MaxAttempts() int { return p.maxAttempts }

// Poll waits one interval, invokes fn, and repeats until fn reports done,
// fn returns an error, the attempt budget is exhausted, or ctx is cancelled.
// Cancellation is observed during the wait, so a caller never blocks past
// one interval after ctx is done.
func (p Policy) Poll(ctx context.Context, fn CheckFunc) error {
	if p.clock == nil {
		return errors.New("retry: policy not constructed with NewPolicy")
	}

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		timer := p.clock.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}

		done, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrBudgetExhausted
}
