// Package ratelimit throttles platform-scoped operations per
// (platform, user, client IP) with two nested fixed windows: a main window
// sized to the provider's published quota and a short burst window.
//
// The decision logic lives in Apply and is shared by every Store. The
// in-process MemoryStore suits a single instance; RedisStore shares counters
// across instances with an atomic read-modify-write.
package ratelimit

import (
	"math"
	"time"

	"github.com/ieraasyl/ConnectService/internal/models"
)

// DefaultBurstWindow is the burst sub-window used when a policy leaves it unset.
const DefaultBurstWindow = 60 * time.Second

// Policy sizes the two windows for one platform.
type Policy struct {
	Window      time.Duration
	MaxRequests int
	BurstWindow time.Duration
	BurstLimit  int
}

// normalize fills the burst window default and keeps it nested inside the
// main window.
func (p Policy) normalize() Policy {
	if p.BurstWindow <= 0 {
		p.BurstWindow = DefaultBurstWindow
	}
	if p.BurstWindow > p.Window {
		p.BurstWindow = p.Window
	}
	if p.BurstLimit <= 0 || p.BurstLimit > p.MaxRequests {
		p.BurstLimit = p.MaxRequests
	}
	return p
}

// DefaultPolicies mirrors each provider's documented request quota.
var DefaultPolicies = map[models.Platform]Policy{
	models.PlatformFacebook:  {Window: time.Hour, MaxRequests: 200, BurstLimit: 20},
	models.PlatformInstagram: {Window: time.Hour, MaxRequests: 200, BurstLimit: 20},
	models.PlatformTwitter:   {Window: 15 * time.Minute, MaxRequests: 300, BurstLimit: 15},
	models.PlatformLinkedIn:  {Window: 24 * time.Hour, MaxRequests: 100, BurstLimit: 10},
	models.PlatformYouTube:   {Window: 24 * time.Hour, MaxRequests: 10000, BurstLimit: 50},
	models.PlatformTikTok:    {Window: time.Hour, MaxRequests: 100, BurstLimit: 10},
	models.PlatformAmazon:    {Window: time.Hour, MaxRequests: 500, BurstLimit: 30},
}

// FallbackPolicy applies to platforms missing from the table.
var FallbackPolicy = Policy{Window: time.Hour, MaxRequests: 100, BurstLimit: 10}

// Result is the outcome of one Check.
type Result struct {
	Allowed        bool
	Limit          int
	Remaining      int
	ResetTime      time.Time
	BurstLimit     int
	BurstRemaining int
	BurstResetTime time.Time
	// RetryAfter is zero when Allowed.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1 when
// the request was denied.
func (r Result) RetryAfterSeconds() int {
	if r.Allowed {
		return 0
	}
	return max(int(math.Ceil(r.RetryAfter.Seconds())), 1)
}

// Entry is the per-key counter state.
type Entry struct {
	Count          int
	ResetTime      time.Time
	BurstCount     int
	BurstResetTime time.Time
}

// Expired reports whether both windows are over at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ResetTime) && !now.Before(e.BurstResetTime)
}

// Apply counts one request against e under policy p at now and updates e
// in place. Burst exhaustion is checked before the main window, so a burst
// denial wins even when the main window still has room.
func Apply(e *Entry, p Policy, now time.Time) Result {
	p = p.normalize()

	if !now.Before(e.ResetTime) {
		e.Count = 0
		e.ResetTime = now.Add(p.Window)
		e.BurstCount = 0
		e.BurstResetTime = now.Add(p.BurstWindow)
	} else if !now.Before(e.BurstResetTime) {
		e.BurstCount = 0
		e.BurstResetTime = now.Add(p.BurstWindow)
		if e.BurstResetTime.After(e.ResetTime) {
			e.BurstResetTime = e.ResetTime
		}
	}

	result := Result{
		Limit:          p.MaxRequests,
		ResetTime:      e.ResetTime,
		BurstLimit:     p.BurstLimit,
		BurstResetTime: e.BurstResetTime,
	}

	switch {
	case e.BurstCount >= p.BurstLimit:
		result.RetryAfter = e.BurstResetTime.Sub(now)
	case e.Count >= p.MaxRequests:
		result.RetryAfter = e.ResetTime.Sub(now)
	default:
		e.Count++
		e.BurstCount++
		result.Allowed = true
	}

	result.Remaining = max(p.MaxRequests-e.Count, 0)
	result.BurstRemaining = max(p.BurstLimit-e.BurstCount, 0)
	return result
}
