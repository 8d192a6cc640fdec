package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/simple-derivative-pipeline/internal/metrics"
)

// Retry defaults
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryConfig controls Retry
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       SleepFunc // nil uses a timer
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// Delay returns the wait before attempt k (1-based). The first attempt runs
// immediately; later ones wait BaseDelay*(k-1).
func (c RetryConfig) Delay(k int) time.Duration {
	if k <= 1 {
		return 0
	}
	return c.BaseDelay * time.Duration(k-1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry calls op up to MaxAttempts times with a linearly growing delay. When
// every attempt fails the error wraps both ErrRetriesExhausted and the last
// failure.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	for k := 1; k <= cfg.MaxAttempts; k++ {
		if k > 1 {
			metrics.FetchRetriesTotal.Inc()
			if err := cfg.Sleep(ctx, cfg.Delay(k)); err != nil {
				return zero, err
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	metrics.FetchRetriesExhaustedTotal.Inc()
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, cfg.MaxAttempts, lastErr)
}

// Client retries a whole fallback chain as one unit
type Client struct {
	chain *Chain
	retry RetryConfig
}

// NewClient combines a chain with a retry policy
func NewClient(chain *Chain, retry RetryConfig) *Client {
	return &Client{chain: chain, retry: retry.withDefaults()}
}

// Get fetches target, retrying the full chain on exhaustion
func (c *Client) Get(ctx context.Context, target string) (*Response, error) {
	return Retry(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		return c.chain.Fetch(ctx, target)
	})
}
