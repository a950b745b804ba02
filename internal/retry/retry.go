// Package retry provides the bounded retry policy applied to remote writes
// that can fail transiently.
package retry

import (
	"context"
	"time"
)

// Policy bounds retries of a single operation. The zero value runs the
// operation exactly once.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Backoff is the base delay. The wait before attempt n is Backoff × n
	// (linear, not exponential: reconnects after a brief drop are the
	// common case here).
	Backoff time.Duration

	// Retryable decides whether an error is worth another attempt. A nil
	// predicate retries nothing.
	Retryable func(error) bool
}

// Do runs fn, retrying per the policy. It returns the last error when all
// attempts fail, and stops early when ctx is done or the error is not
// retryable.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == attempts || p.Retryable == nil || !p.Retryable(err) {
			return err
		}

		wait := p.Backoff * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
