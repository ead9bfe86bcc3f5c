package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-ID"

// CORS creates CORS middleware with configured allowed origins.
// Credentials are allowed so the session cookie travels with XHR calls
// from the frontend, and the rate-limit headers are exposed so the UI can
// show how long to wait.
//
// Example:
//
//	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", RequestIDHeader, "User-Agent"},
		ExposedHeaders: []string{
			RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})
}

// Logger creates structured logging middleware with request id correlation.
// It attaches logger to every request context so handlers and services can
// use log.Ctx(ctx) and get the request id for free.
//
// Log fields on every line: request_id, method, path. The access line adds
// status, bytes, duration_ms, remote_addr and user_agent.
//
// Example logs:
//
//	{"level":"info","request_id":"cs0f1sq7h6u4c8a0g4n0","method":"GET","path":"/api/v1/connections","msg":"Request completed","status":200,"bytes":156,"duration_ms":4.1}
//
// Usage:
//
//	r.Use(middleware.Logger(log.Logger))
func Logger(logger zerolog.Logger) func(http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{
		hlog.NewHandler(logger),
		hlog.RequestIDHandler("request_id", RequestIDHeader),
		hlog.MethodHandler("method"),
		pathHandler("path"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			event := hlog.FromRequest(r).Info()
			switch {
			case status >= http.StatusInternalServerError:
				event = hlog.FromRequest(r).Error()
			case status >= http.StatusBadRequest:
				event = hlog.FromRequest(r).Warn()
			}
			event.
				Int("status", status).
				Int("bytes", size).
				Float64("duration_ms", float64(duration.Microseconds())/1000).
				Str("remote_addr", utils.ExtractClientIP(r)).
				Str("user_agent", r.UserAgent()).
				Msg("Request completed")
		}),
	}

	return func(next http.Handler) http.Handler {
		for i := len(chain) - 1; i >= 0; i-- {
			next = chain[i](next)
		}
		return next
	}
}

// pathHandler logs the path without the query string. Callback query
// strings carry authorization codes and must stay out of logs.
func pathHandler(fieldKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := zerolog.Ctx(r.Context())
			l.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str(fieldKey, r.URL.Path)
			})
			next.ServeHTTP(w, r)
		})
	}
}

// Recoverer recovers from panics and logs the error.
// Prevents the entire application from crashing when a handler panics.
// This should be registered right after Logger so the panic line carries
// the request id.
//
// The panic details are logged but NOT exposed to the client.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.Ctx(r.Context()).Error().
						Interface("error", err).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Msg("Panic recovered")

					utils.RespondWithError(w, r, http.StatusInternalServerError, "Internal Server Error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders adds security-related HTTP headers to all responses.
//
// Headers added:
//   - X-Content-Type-Options: nosniff
//   - X-Frame-Options: DENY
//   - X-XSS-Protection: 1; mode=block
//   - Strict-Transport-Security: max-age=31536000; includeSubDomains
//   - Content-Security-Policy: default-src 'none' (JSON and redirects only)
//   - Referrer-Policy: strict-origin-when-cross-origin
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}
