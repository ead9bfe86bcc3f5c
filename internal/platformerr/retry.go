package platformerr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ieraasyl/ConnectService/internal/metrics"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/rs/zerolog/log"
)

// RetryPolicy bounds automatic retries for one platform.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// RetryRateLimited waits out rate limits whose RetryAfter fits within
	// MaxDelay. Interactive callers leave it off and surface the wait.
	RetryRateLimited bool
}

// RetryPolicies is the per-provider server error budget.
var RetryPolicies = map[models.Platform]RetryPolicy{
	models.PlatformFacebook:  {MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	models.PlatformInstagram: {MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	models.PlatformTwitter:   {MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second},
	models.PlatformTikTok:    {MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 20 * time.Second},
	models.PlatformAmazon:    {MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second},
}

// PolicyFor returns the platform's policy or a conservative default.
func PolicyFor(platform models.Platform) RetryPolicy {
	if p, ok := RetryPolicies[platform]; ok {
		return p
	}
	return RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

// Error is a classified provider failure.
type Error struct {
	Platform       models.Platform
	Classification Classification
	Err            error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Platform, e.Classification.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a classified failure from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}

// Do runs fn under policy, classifying each failure. Server errors are
// retried with exponential backoff and jitter; rate limits only when the
// policy allows and the provider's wait fits; token and permission errors
// never. The returned error wraps an *Error describing the last failure.
//
// Example:
//
//	err := platformerr.Do(ctx, models.PlatformTwitter, platformerr.PolicyFor(models.PlatformTwitter),
//	    func(ctx context.Context) error {
//	        return client.Revoke(ctx, token)
//	    })
func Do(ctx context.Context, platform models.Platform, policy RetryPolicy, fn func(ctx context.Context) error) error {
	cfg := utils.RetryConfig{
		MaxAttempts:  policy.MaxAttempts,
		InitialDelay: policy.BaseDelay,
		MaxDelay:     policy.MaxDelay,
		Multiplier:   2,
		Jitter:       true,
		ShouldRetry: func(err error) utils.RetryDecision {
			pe, _ := AsError(err)
			c := pe.Classification
			switch {
			case c.Kind == KindRateLimit:
				fits := policy.RetryRateLimited && c.RetryAfter <= policy.MaxDelay
				return utils.RetryDecision{Retry: fits, Delay: c.RetryAfter}
			case c.IsRetryable:
				return utils.RetryDecision{Retry: true, Delay: c.RetryAfter}
			}
			return utils.RetryDecision{}
		},
	}

	return utils.Retry(ctx, cfg, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if pe, ok := AsError(err); ok {
			return pe
		}
		c := ClassifyError(platform, err)
		metrics.RecordPlatformError(string(platform), string(c.Kind))
		log.Debug().
			Err(err).
			Str("platform", string(platform)).
			Str("code", c.Code).
			Bool("retryable", c.IsRetryable).
			Msg("Classified platform error")
		return &Error{Platform: platform, Classification: c, Err: err}
	})
}
