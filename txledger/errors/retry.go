package errors

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures RetryWithConfig
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Retryable decides whether a failure earns another attempt. Nil means
	// IsTransient.
	Retryable func(error) bool
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryWithConfig runs fn with exponential backoff until it succeeds, fails
// with an error the config does not retry, or ctx is done. When the attempts
// run out the last failure comes back inside a CodeExhausted ChainError.
func RetryWithConfig(ctx context.Context, fn func() error, config *RetryConfig) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	retryable := config.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	maxAttempts := max(config.MaxAttempts, 1)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = config.InitialDelay
	eb.MaxInterval = config.MaxDelay
	eb.Multiplier = config.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxAttempts-1)), ctx)

	attempts := 0
	permanent := false
	err := backoff.Retry(func() error {
		attempts++
		err := fn()
		if err != nil && !retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if err == nil || permanent || ctx.Err() != nil {
		return err
	}
	return &ChainError{Code: CodeExhausted, Attempts: attempts, Cause: err}
}
