// Package resilience provides the retry policy projections use, built on
// fortify.
package resilience

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
)

// RetryConfig bounds the exponential backoff applied to failing projection
// handlers.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, the first included.
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
}

// DefaultRetryConfig returns a configuration with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// Retrier runs operations with bounded exponential backoff.
type Retrier struct {
	retry retry.Retry[struct{}]
}

// NewRetrier creates a retrier from the given configuration. Zero values
// fall back to the defaults.
func NewRetrier(config RetryConfig) *Retrier {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.Multiplier <= 1 {
		config.Multiplier = def.Multiplier
	}

	return &Retrier{
		retry: retry.New[struct{}](retry.Config{
			MaxAttempts:   config.MaxAttempts,
			InitialDelay:  config.InitialDelay,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    config.Multiplier,
		}),
	}
}

// Do runs fn until it succeeds, the attempts are exhausted, or the context
// is cancelled. The last error is returned on exhaustion.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := r.retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
