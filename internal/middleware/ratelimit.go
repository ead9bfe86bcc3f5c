package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/ratelimit"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/rs/zerolog/log"
)

// PlatformChecker counts one request against a platform's quota.
type PlatformChecker interface {
	Check(ctx context.Context, platform models.Platform, userID, ip string) (ratelimit.Result, error)
}

// PlatformResolver maps a request onto the platform whose quota it spends.
// ok is false for requests that are not platform scoped.
type PlatformResolver func(r *http.Request) (platform models.Platform, ok bool)

// RateLimitResponse is the 429 body.
type RateLimitResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Platform   string `json:"platform"`
	RetryAfter int    `json:"retryAfter"`
	RequestID  string `json:"request_id,omitempty"`
}

// PlatformRateLimit applies the Platform Rate Limiter to platform-scoped
// write endpoints. Requests are keyed by platform, session user and client
// IP.
//
// Headers on every checked response:
//   - X-RateLimit-Limit: main window quota
//   - X-RateLimit-Remaining: requests left in the main window
//   - X-RateLimit-Reset: main window reset, RFC 3339 in UTC
//
// When denied the response is 429 with Retry-After in seconds.
//
// Store errors fail open: the request proceeds and the error is logged.
//
// Example:
//
//	r.With(middleware.PlatformRateLimit(limiter, platformOf)).Post("/{provider}/disconnect", h.Disconnect)
func PlatformRateLimit(limiter PlatformChecker, resolve PlatformResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			platform, ok := resolve(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ip := utils.ExtractClientIP(r)
			userID := GetSession(r.Context()).UserID
			res, err := limiter.Check(r.Context(), platform, userID, ip)
			if err != nil {
				log.Ctx(r.Context()).Error().
					Err(err).
					Str("platform", string(platform)).
					Str("ip", ip).
					Msg("Failed to check platform rate limit")
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", res.ResetTime.UTC().Format(time.RFC3339))

			if !res.Allowed {
				retryAfter := res.RetryAfterSeconds()
				h.Set("Retry-After", strconv.Itoa(retryAfter))

				log.Ctx(r.Context()).Warn().
					Str("platform", string(platform)).
					Str("ip", ip).
					Int("retry_after", retryAfter).
					Msg("Platform rate limit exceeded")

				utils.RespondWithJSON(w, r, http.StatusTooManyRequests, RateLimitResponse{
					Error:      http.StatusText(http.StatusTooManyRequests),
					Message:    "Rate limit exceeded. Please try again later.",
					Platform:   string(platform),
					RetryAfter: retryAfter,
					RequestID:  utils.GetRequestID(r),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPRateLimit is a coarse per-client-IP limit for unauthenticated entry
// points such as sign-in and connect initiation. Counters are local to the
// instance.
func IPRateLimit(requestsPerMin int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMin,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return utils.ExtractClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			log.Ctx(r.Context()).Warn().
				Str("ip", utils.ExtractClientIP(r)).
				Msg("IP rate limit exceeded")
			utils.RespondWithError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
		}),
	)
}
