// Package handlers provides HTTP request handlers for the API endpoints.
// Handlers coordinate between the HTTP layer and the OAuth controller,
// handling request parsing, session persistence and response formatting.
//
// This package includes handlers for:
//   - Health checks and readiness checks
//   - Platform connection flows (connect, callback, disconnect, refresh, list)
//   - Sign-in through a provider and application token lifecycle
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Pinger is a dependency the readiness check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// readyTimeout bounds one readiness check across all dependencies.
const readyTimeout = 5 * time.Second

// HealthHandler serves liveness and readiness checks. Readiness pings
// Provider Persistence and Redis; a nil dependency is skipped.
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler creates a health handler for the given dependencies.
//
// Example:
//
//	health := handlers.NewHealthHandler(postgresDB, redisDB)
//	r.Get("/health", health.Health)
//	r.Get("/ready", health.Ready)
func NewHealthHandler(postgres, redis Pinger) *HealthHandler {
	deps := make(map[string]Pinger, 2)
	if postgres != nil {
		deps["postgres"] = postgres
	}
	if redis != nil {
		deps["redis"] = redis
	}
	return &HealthHandler{deps: deps}
}

// HealthResponse is the body of both checks. Services is only set by
// the readiness check.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// Health reports that the process is serving requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Ready pings every dependency concurrently and answers 503 with status
// "degraded" when any of them fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	type pingResult struct {
		name string
		err  error
	}
	results := make(chan pingResult, len(h.deps))
	for name, dep := range h.deps {
		go func() {
			results <- pingResult{name: name, err: dep.Ping(ctx)}
		}()
	}

	resp := HealthResponse{Status: "ok", Timestamp: time.Now(), Services: make(map[string]string, len(h.deps))}
	status := http.StatusOK
	for range h.deps {
		p := <-results
		if p.err != nil {
			log.Ctx(r.Context()).Error().Err(p.err).Str("service", p.name).Msg("Readiness check failed")
			resp.Services[p.name] = "unhealthy"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Services[p.name] = "healthy"
	}

	utils.RespondWithJSON(w, r, status, resp)
}
