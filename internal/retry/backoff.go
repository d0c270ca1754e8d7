// Package retry retries gateway connects with exponential backoff and
// stops hammering a gateway that keeps failing.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable.  Do returns the inner error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err has been marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Backoff retries an operation with exponentially growing delays.
// The zero value makes a single attempt.
type Backoff struct {
	InitialDelay time.Duration // delay before the second attempt (default 250ms)
	MaxDelay     time.Duration // cap on any single delay (default 5s)
	MaxAttempts  int           // total tries including the first; <= 1 means one
	Jitter       bool          // spread each delay by up to ±25%
}

// Gateway returns the policy used for SSH gateway connects.
func Gateway() *Backoff {
	return &Backoff{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		MaxAttempts:  3,
		Jitter:       true,
	}
}

// Do calls fn until it succeeds, returns a Permanent error, runs out
// of attempts, or ctx is done.  attempt is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := 1
	delay, maxDelay := 250*time.Millisecond, 5*time.Second
	jitter := false
	if b != nil {
		if b.MaxAttempts > 1 {
			attempts = b.MaxAttempts
		}
		if b.InitialDelay > 0 {
			delay = b.InitialDelay
		}
		if b.MaxDelay > 0 {
			maxDelay = b.MaxDelay
		}
		jitter = b.Jitter
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if attempt >= attempts {
			if attempts == 1 {
				return err
			}
			return fmt.Errorf("after %d attempts: %w", attempts, err)
		}

		wait := delay
		if jitter {
			wait = spread(delay)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// spread returns d moved by a random amount of at most 25%.
func spread(d time.Duration) time.Duration {
	quarter := int64(d) / 4
	if quarter <= 0 {
		return d
	}
	return d - time.Duration(quarter) + time.Duration(rand.Int63n(2*quarter+1)) //nolint:gosec // jitter only
}
