package fetch

import (
	"context"
	"fmt"
	"log"
	"time"
)

// RetryConfig holds the backoff parameters for transient fetch failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do runs fn with exponential backoff. Only transient errors are retried:
// blocked and not-found are surfaced immediately, as is context
// cancellation.
func (r RetryConfig) Do(ctx context.Context, name string, fn func() error) error {
	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}

		if attempt < r.MaxAttempts {
			log.Printf("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
				name, attempt, r.MaxAttempts, lastErr, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, r.MaxAttempts, lastErr)
}
