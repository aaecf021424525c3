// Package retry provides a small bounded-retry primitive for polling
// asynchronous remote operations until they reach a terminal state.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned by Poll when the attempt bound is
// reached without the operation completing.
var ErrAttemptsExhausted = errors.New("retry: attempts exhausted")

// Policy defines a fixed-attempt, fixed-interval polling policy.
type Policy struct {
	// MaxAttempts is the number of times the operation is attempted.
	MaxAttempts int
	// Interval is the delay between attempts.
	Interval time.Duration
}

// DefaultPolicy returns the polling policy used for remote process
// status checks: 10 attempts spaced 500ms apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 10,
		Interval:    500 * time.Millisecond,
	}
}

// Validate checks if the policy configuration is valid.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errors.New("MaxAttempts must be positive")
	}
	if p.Interval <= 0 {
		return errors.New("Interval must be positive")
	}
	return nil
}

// PollFunc is one polling attempt. It returns done=true when the
// operation has reached a terminal state. A non-nil error marks the
// attempt as failed; polling continues until the attempt bound.
type PollFunc func(ctx context.Context) (done bool, err error)

// Poll runs fn up to p.MaxAttempts times, sleeping p.Interval between
// attempts that did not complete. It returns nil as soon as fn reports
// done. When attempts run out it returns ErrAttemptsExhausted wrapped
// with the last attempt error, if any.
func Poll(ctx context.Context, p Policy, fn PollFunc) error {
	if err := p.Validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Interval):
			}
		}

		done, err := fn(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if done {
			return nil
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, p.MaxAttempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, p.MaxAttempts)
}
