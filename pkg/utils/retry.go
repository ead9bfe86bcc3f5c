package utils

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryDecision is what a RetryConfig.ShouldRetry hook returns for a failed
// attempt. A positive Delay overrides the computed backoff, which is how a
// provider-supplied Retry-After is honored.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts (including first try)
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Upper bound on any single delay
	Multiplier   float64       // Exponential backoff multiplier
	Jitter       bool          // Add +/-25% random jitter to delays

	// ShouldRetry inspects an attempt's error. Nil retries every error.
	ShouldRetry func(err error) RetryDecision
}

// DatabaseRetryConfig is tuned for transient connection failures on startup.
func DatabaseRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry runs fn until it succeeds, the hook declines a retry, attempts run
// out, or ctx is done. The last error is wrapped in the returned error.
//
// Example:
//
//	err := utils.Retry(ctx, utils.DatabaseRetryConfig(), func(ctx context.Context) error {
//	    return db.PingContext(ctx)
//	})
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is Retry for functions that produce a value.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := max(config.MaxAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Int("max_attempts", attempts).
					Msg("Operation succeeded after retry")
			}
			return res, nil
		}
		lastErr = err

		decision := RetryDecision{Retry: true}
		if config.ShouldRetry != nil {
			decision = config.ShouldRetry(err)
		}
		if !decision.Retry {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}
		if attempt == attempts {
			log.Warn().
				Err(err).
				Int("attempts", attempt).
				Msg("Max retry attempts reached")
			break
		}

		delay := decision.Delay
		if delay <= 0 {
			delay = Backoff(attempt, config)
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Operation failed, retrying after delay")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("max retries exceeded (%d attempts): %w", attempts, lastErr)
}

// Backoff returns the delay before retry number attempt (1-based):
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay, with optional
// jitter applied after the cap.
func Backoff(attempt int, config RetryConfig) time.Duration {
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(config.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.25
		delay += rand.Float64()*2*jitterRange - jitterRange
	}

	return time.Duration(delay)
}
