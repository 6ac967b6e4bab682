// Package retry runs an operation with exponential backoff and jitter.
// Webhook delivery is the main consumer: transient endpoint failures get
// a few spaced attempts, permanent ones fail fast.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do gives up immediately.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do invokes fn until it succeeds, returns a permanent error, ctx ends, or
// maxAttempts runs out. The delay doubles after each failure, spread by
// +-25% jitter so retriers that failed together do not wake together.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(withJitter(delay)):
		}
		delay *= 2
	}
}

// withJitter spreads d uniformly across [0.75d, 1.25d].
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := d / 2
	return d - spread/2 + rand.N(spread+1)
}
