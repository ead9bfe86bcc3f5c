package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, fastRetry(3), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		cause := errors.New("connection refused")
		err := Retry(ctx, fastRetry(2), func(context.Context) error {
			calls++
			return cause
		})
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "max retries exceeded")
		assert.Equal(t, 2, calls)
	})

	t.Run("hook stops retries", func(t *testing.T) {
		calls := 0
		cfg := fastRetry(5)
		cfg.ShouldRetry = func(error) RetryDecision { return RetryDecision{Retry: false} }

		err := Retry(ctx, cfg, func(context.Context) error {
			calls++
			return errors.New("invalid_grant")
		})
		assert.Contains(t, err.Error(), "non-retryable")
		assert.Equal(t, 1, calls)
	})

	t.Run("hook delay is capped by MaxDelay", func(t *testing.T) {
		cfg := fastRetry(2)
		cfg.ShouldRetry = func(error) RetryDecision { return RetryDecision{Retry: true, Delay: time.Hour} }

		start := time.Now()
		_ = Retry(ctx, cfg, func(context.Context) error { return errors.New("rate limited") })
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, Multiplier: 1}

		err := Retry(cctx, cfg, func(context.Context) error {
			cancel()
			return errors.New("boom")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("result is returned", func(t *testing.T) {
		got, err := RetryWithResult(ctx, fastRetry(1), func(context.Context) (string, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
	})
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, Backoff(1, cfg))
	assert.Equal(t, 200*time.Millisecond, Backoff(2, cfg))
	assert.Equal(t, 400*time.Millisecond, Backoff(3, cfg))
	assert.Equal(t, time.Second, Backoff(10, cfg))

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := Backoff(2, cfg)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}
