// Package retry provides bounded retry logic for transient errors.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, Delay: 2 * time.Second}, func() error {
//	    return client.Call()
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Backoff doubles the delay after each retry, capped at MaxDelay.
	// When false, every wait uses Delay unchanged (fixed-delay retry).
	Backoff bool
	// MaxDelay caps the per-attempt wait when Backoff is enabled.
	MaxDelay time.Duration
	// ShouldRetry is an optional predicate that lets callers classify errors
	// as retryable.  When nil, all non-nil errors are retried.
	ShouldRetry func(err error) bool
	// Sleep waits between attempts.  When nil, a context-aware timer wait is
	// used.  Tests inject a no-op Sleep so retries run instantly.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig provides sensible defaults for short-lived network calls.
var DefaultConfig = Config{
	MaxAttempts: 3,
	Delay:       500 * time.Millisecond,
	Backoff:     true,
	MaxDelay:    10 * time.Second,
}

// Do calls fn up to cfg.MaxAttempts times, waiting between attempts.
// It stops early when ctx is cancelled or fn returns nil.
// The error from the last attempt is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultConfig.Delay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	delay := cfg.Delay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxAttempts {
			slog.Debug("retry: attempt failed, retrying",
				"attempt", attempt, "max", cfg.MaxAttempts,
				"err", lastErr, "delay", delay)

			if err := sleep(ctx, delay); err != nil {
				return errors.Join(lastErr, err)
			}

			if cfg.Backoff {
				delay *= 2
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			}
		}
	}

	return lastErr
}

// timerSleep waits for d or until ctx is cancelled, whichever comes first.
func timerSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
