package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrRetriesExhausted = errors.New("retry: attempts exhausted")

// RetryPolicy bounds WithRetry. Retryable decides whether a failed attempt
// may be followed by another; errors it rejects are returned immediately.
type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(error) bool
	Backoff     func(attempt int) time.Duration
}

// WithRetry calls fn with attempt indexes 0..MaxAttempts-1 until it
// succeeds. When every attempt fails with a retryable error the result
// wraps both ErrRetriesExhausted and the last error.
func WithRetry(ctx context.Context, p RetryPolicy, fn func(attempt int) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = fn(attempt)
		if last == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(last) {
			return last
		}

		if p.Backoff != nil && attempt < p.MaxAttempts-1 {
			if d := p.Backoff(attempt); d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxAttempts, last)
}

// RetryOn returns a Retryable matching any of targets via errors.Is.
func RetryOn(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

// ExponentialBackoff doubles base on every attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base << attempt
		if d <= 0 || d > max {
			return max
		}
		return d
	}
}
