package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingChecker struct{}

func (failingChecker) Check(context.Context, models.Platform, string, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}

func twitterOnly(r *http.Request) (models.Platform, bool) {
	return models.PlatformTwitter, r.URL.Path != "/unscoped"
}

func TestPlatformRateLimit(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(),
		ratelimit.WithClock(ratelimit.ClockFunc(func() time.Time { return now })),
		ratelimit.WithPolicy(models.PlatformTwitter, ratelimit.Policy{
			Window:      time.Minute,
			MaxRequests: 5,
			BurstLimit:  2,
			BurstWindow: 10 * time.Second,
		}),
	)
	handler := PlatformRateLimit(limiter, twitterOnly)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "203.0.113.7:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("allowed requests carry quota headers", func(t *testing.T) {
		rec := do("/api/v1/connect/twitter/disconnect")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, start.Add(time.Minute).Format(time.RFC3339), rec.Header().Get("X-RateLimit-Reset"))
		assert.Empty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("burst exhaustion returns 429", func(t *testing.T) {
		require.Equal(t, http.StatusOK, do("/api/v1/connect/twitter/disconnect").Code)

		rec := do("/api/v1/connect/twitter/disconnect")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		require.NoError(t, err)
		assert.Positive(t, retryAfter)
		assert.LessOrEqual(t, retryAfter, 10)
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

		var body RateLimitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "twitter", body.Platform)
		assert.Equal(t, retryAfter, body.RetryAfter)
	})

	t.Run("burst window elapses", func(t *testing.T) {
		now = now.Add(11 * time.Second)
		assert.Equal(t, http.StatusOK, do("/api/v1/connect/twitter/disconnect").Code)
	})

	t.Run("unscoped requests are not counted", func(t *testing.T) {
		rec := do("/unscoped")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	})
}

func TestPlatformRateLimitFailsOpen(t *testing.T) {
	handler := PlatformRateLimit(failingChecker{}, twitterOnly)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/connect/twitter/refresh", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestIPRateLimit(t *testing.T) {
	handler := IPRateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/twitter/login", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("198.51.100.1"))
	assert.Equal(t, http.StatusOK, do("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("198.51.100.1"))
	assert.Equal(t, http.StatusOK, do("198.51.100.2"), "counters are per client IP")
}
