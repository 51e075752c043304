// Package retry implements the bounded exponential backoff used for
// outbound peer connection attempts (spec.md §4.4, MAX_RETRIES).
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Operation is a unit of work retried under a Config.
type Operation func(ctx context.Context) error

type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	OnRetry      func(attempt int, err error, nextDelay time.Duration)
	RetryIf      func(err error) bool
}

type Option func(*Config)

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) { c.InitialDelay = d }
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) { c.MaxDelay = d }
}

func WithMultiplier(m float64) Option {
	return func(c *Config) { c.Multiplier = m }
}

func WithOnRetry(cb func(attempt int, err error, nextDelay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = cb }
}

func WithRetryIf(pred func(err error) bool) Option {
	return func(c *Config) { c.RetryIf = pred }
}

// WithExponentialBackoff is the connect-retry policy named in spec.md
// §4.4: MAX_RETRIES attempts, doubling delay, capped at maxDelay.
func WithExponentialBackoff(maxAttempts int, initialDelay, maxDelay time.Duration) []Option {
	return []Option{
		WithMaxAttempts(maxAttempts),
		WithInitialDelay(initialDelay),
		WithMaxDelay(maxDelay),
		WithMultiplier(2.0),
	}
}

// Do runs op until it succeeds, the context is canceled, RetryIf rejects
// the error as unretryable, or MaxAttempts is exhausted. On exhaustion it
// returns the last error from op, wrapped.
func Do(ctx context.Context, op Operation, opts ...Option) error {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: context canceled before attempt %d: %w", attempt, err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if cfg.RetryIf != nil && !cfg.RetryIf(lastErr) {
			return fmt.Errorf("retry: unretryable error: %w", lastErr)
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := calculateDelay(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: context canceled during backoff (attempt %d): %w (last error: %v)",
				attempt, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry: exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func calculateDelay(attempt int, cfg *Config) time.Duration {
	delay := math.Min(
		float64(cfg.MaxDelay),
		float64(cfg.InitialDelay)*math.Pow(cfg.Multiplier, float64(attempt-1)),
	)
	return time.Duration(delay)
}
