// Package retry runs an operation with bounded, exponentially backed-off
// retries.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int           // total attempts including the first; <1 means 1
	MinDelay    time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap for the doubled delay

	// OnRetry, if set, is called before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy is used when configuration leaves the bounds unset.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		MinDelay:    250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Delay returns the backoff before attempt n+1, given n failed attempts.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.MinDelay <= 0 {
		return 0
	}
	d := p.MinDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the unwrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls op until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts is exhausted. The last error is returned on failure.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return zero, lastErr
}
