package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ieraasyl/ConnectService/internal/metrics"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/rs/zerolog/log"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now returns f().
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Store applies one request to a key atomically. Implementations must call
// Apply under whatever exclusion they provide so every store makes the same
// decision for the same history.
type Store interface {
	Take(ctx context.Context, key string, policy Policy, now time.Time) (Result, error)
}

// Limiter checks platform operations against per-platform policies.
type Limiter struct {
	store    Store
	clock    Clock
	policies map[models.Platform]Policy
	fallback Policy
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithPolicy overrides the policy for one platform.
func WithPolicy(p models.Platform, policy Policy) Option {
	return func(l *Limiter) { l.policies[p] = policy }
}

// NewLimiter creates a limiter over store using DefaultPolicies.
//
// Example:
//
//	store := ratelimit.NewMemoryStore()
//	store.StartSweeper(10*time.Minute, ratelimit.SystemClock)
//	defer store.Close()
//
//	limiter := ratelimit.NewLimiter(store)
//	res, err := limiter.Check(ctx, models.PlatformTwitter, userID, clientIP)
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		clock:    SystemClock,
		policies: make(map[models.Platform]Policy, len(DefaultPolicies)),
		fallback: FallbackPolicy,
	}
	for p, policy := range DefaultPolicies {
		l.policies[p] = policy
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key builds the counter key platform:userId:ip.
func Key(platform models.Platform, userID, ip string) string {
	return fmt.Sprintf("%s:%s:%s", platform, userID, ip)
}

// Policy returns the effective policy for platform.
func (l *Limiter) Policy(platform models.Platform) Policy {
	if p, ok := l.policies[platform]; ok {
		return p
	}
	return l.fallback
}

// Check counts one request for (platform, userID, ip). A denial is a normal
// Result, not an error; errors only come from the backing store.
func (l *Limiter) Check(ctx context.Context, platform models.Platform, userID, ip string) (Result, error) {
	key := Key(platform, userID, ip)
	res, err := l.store.Take(ctx, key, l.Policy(platform), l.clock.Now())
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store: %w", err)
	}

	metrics.RecordRateLimitDecision(string(platform), res.Allowed)
	if !res.Allowed {
		log.Debug().
			Str("key", key).
			Int("limit", res.Limit).
			Int("burst_remaining", res.BurstRemaining).
			Dur("retry_after", res.RetryAfter).
			Msg("Platform rate limit exceeded")
	}
	return res, nil
}
