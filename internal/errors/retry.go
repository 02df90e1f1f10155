package errors

import (
	"context"
	"fmt"
	"time"
)

// Backoff shapes the retry schedule for transient failures: embed
// batches against a throttled model runtime, model downloads over flaky
// networks, file reads racing an editor's save.
type Backoff struct {
	// MaxRetries is the number of retry attempts after the initial one.
	MaxRetries int

	// InitialDelay is the wait before the first retry; each subsequent
	// wait multiplies by Multiplier, capped at MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoff returns the daemon's standard schedule: three retries,
// one second doubling to a sixteen-second cap.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

func (b Backoff) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * b.Multiplier)
	if delay > b.MaxDelay {
		return b.MaxDelay
	}
	return delay
}

// Retry runs fn until it succeeds, the budget is spent, the context is
// cancelled, or the failure stops being worth retrying. The taxonomy
// decides the last part: a validation-class error (bad input, unsupported
// file type) returns immediately instead of burning the schedule on an
// outcome that cannot change.
func Retry(ctx context.Context, b Backoff, fn func() error) error {
	delay := b.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !Classify(err).Retryable() {
			return err
		}
		if attempt >= b.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = b.next(delay)
	}

	return fmt.Errorf("failed after %d retries: %w", b.MaxRetries, lastErr)
}
