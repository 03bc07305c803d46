package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts uint
	Backoff     Backoff
	// OnRetry is called with the 1-based number of each failed attempt. Optional.
	OnRetry func(attempt uint, err error)
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Backoff: Backoff{
			Initial:    1 * time.Second,
			Max:        30 * time.Second,
			Multiplier: 2.0,
			Jitter:     DefaultJitter,
		},
	}
}

// Do executes a function with exponential backoff retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var attempt uint
	return retry.Do(
		func() error {
			attempt++
			return fn()
		},
		retry.Context(ctx),
		retry.Attempts(cfg.MaxAttempts),
		retry.DelayType(func(_ uint, _ error, _ *retry.Config) time.Duration {
			return cfg.Backoff.Delay(int(attempt), nil)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(_ uint, err error) {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, err)
			}
		}),
	)
}

// DoWithResult executes a function with exponential backoff retry and returns a result
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
