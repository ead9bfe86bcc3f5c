// Package metrics holds the Prometheus collectors for the connection
// domain. Collectors register with the default registry on init.
//
// Available metrics:
//   - oauth_flow_total: Completed OAuth flows by provider, intent and outcome
//   - oauth_flow_step_duration_seconds: Latency of provider calls per step
//   - session_decode_failures_total: Rejected session cookies by reason
//   - platform_rate_limit_decisions_total: Limiter decisions by platform
//   - platform_errors_total: Classified provider errors by platform and kind
//   - db_queries_total / db_query_duration_seconds: Provider Persistence queries
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	oauthFlowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_flow_total",
			Help: "Total number of finished OAuth flows",
		},
		[]string{"provider", "intent", "outcome"},
	)

	oauthStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oauth_flow_step_duration_seconds",
			Help:    "Duration of provider calls made by an OAuth flow step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "step"},
	)

	sessionDecodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_decode_failures_total",
			Help: "Total number of session cookies that failed verification",
		},
		[]string{"reason"},
	)

	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_rate_limit_decisions_total",
			Help: "Total number of platform rate limiter decisions",
		},
		[]string{"platform", "decision"},
	)

	platformErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_errors_total",
			Help: "Total number of classified provider errors",
		},
		[]string{"platform", "kind"},
	)

	dbQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		oauthFlowTotal,
		oauthStepDuration,
		sessionDecodeFailures,
		rateLimitDecisions,
		platformErrors,
		dbQueriesTotal,
		dbQueryDuration,
	)
}

// RecordOAuthFlow counts a finished flow. outcome is "success" or a
// failure reason tag.
func RecordOAuthFlow(provider, intent, outcome string) {
	oauthFlowTotal.WithLabelValues(provider, intent, outcome).Inc()
}

// ObserveOAuthStep records how long a provider call took.
func ObserveOAuthStep(provider, step string, d time.Duration) {
	oauthStepDuration.WithLabelValues(provider, step).Observe(d.Seconds())
}

// RecordSessionDecodeFailure counts a rejected session cookie.
func RecordSessionDecodeFailure(reason string) {
	sessionDecodeFailures.WithLabelValues(reason).Inc()
}

// RecordRateLimitDecision counts an allow/deny decision.
func RecordRateLimitDecision(platform string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	rateLimitDecisions.WithLabelValues(platform, decision).Inc()
}

// RecordPlatformError counts a classified provider error.
func RecordPlatformError(platform, kind string) {
	platformErrors.WithLabelValues(platform, kind).Inc()
}

// RecordDBQuery records a Provider Persistence query.
//
// Example:
//
//	start := time.Now()
//	err := db.QueryRowContext(ctx, query, args...).Scan(&user.ID)
//	metrics.RecordDBQuery("upsert_connection", err, time.Since(start))
func RecordDBQuery(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	dbQueriesTotal.WithLabelValues(operation, status).Inc()
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
