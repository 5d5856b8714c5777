package errors

import (
	"context"
	"time"
)

// RetryPolicy defines bounded retry behavior for a class of operations.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of retry attempts after the first
	// try (0 means no retry).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the starting backoff duration.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum backoff duration.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64 `yaml:"multiplier"`

	// JitterPercent is the jitter percentage (default: 0.1 for 10%).
	JitterPercent float64 `yaml:"jitter_percent"`
}

// DefaultTransientPolicy returns the policy applied to durable-store and
// cache I/O retries.
func DefaultTransientPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// DefaultIndexWritePolicy returns the policy applied to index insertion
// after a successful durable write. Short delays: the index is in-memory,
// so failures here are either momentary contention or a real bug.
func DefaultIndexWritePolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// Retry invokes fn until it succeeds, the policy's attempts are exhausted,
// or ctx is cancelled. Only retryable tiers are retried; other errors
// return immediately.
func Retry(ctx context.Context, policy *RetryPolicy, fn func() error) error {
	if policy == nil {
		policy = DefaultTransientPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := AddJitter(CalculateDelay(attempt-1, policy), policy.JitterPercent)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
