// Package retry provides bounded exponential backoff for collaborator
// calls whose transient failures should not surface immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// NonRetryableError marks errors that must not be retried.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable wraps an error to stop further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether an error is marked non-retryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config controls retry behavior.
type Config struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // cap on the backoff delay
	Multiplier   float64       // backoff growth factor
	AddJitter    bool          // add up to 25% random jitter per delay
}

// DefaultConfig returns the defaults used for storage-boundary retries.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Do runs fn with exponential backoff until it succeeds, returns a
// non-retryable error, exhausts MaxAttempts, or ctx is cancelled.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := delay
		if cfg.AddJitter {
			sleep += rand.N(delay/4 + 1)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff before attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		next := time.Duration(float64(delay) * cfg.Multiplier)
		if next > cfg.MaxDelay || next < delay {
			next = cfg.MaxDelay
		}
		delay = next
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult runs fn with retry and returns its result.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
