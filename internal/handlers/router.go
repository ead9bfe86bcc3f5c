package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ieraasyl/ConnectService/internal/middleware"
	"github.com/ieraasyl/ConnectService/internal/oauth"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/rs/zerolog"
)

// RouterOptions holds everything Router wires together.
type RouterOptions struct {
	Logger    zerolog.Logger
	Sessions  *session.Service
	Providers *oauth.Registry
	Tokens    middleware.AccessTokenValidator
	Limiter   middleware.PlatformChecker

	Connect *ConnectHandler
	Auth    *AuthHandler
	Health  *HealthHandler

	AllowedOrigins []string
	LoginPath      string
	// IPRequestsPerMin limits unauthenticated entry points per client IP.
	// Zero disables the limit.
	IPRequestsPerMin int
}

// Router builds the HTTP router.
//
// Routes:
//
//	GET      /health, /ready, /metrics
//	GET|POST /api/v1/connect/{provider}
//	GET      /api/v1/connect/{provider}/callback
//	POST     /api/v1/connect/{provider}/disconnect   (session, platform rate limit)
//	POST     /api/v1/connect/{provider}/refresh      (session, platform rate limit)
//	GET      /api/v1/connections                     (session)
//	GET      /api/v1/auth/{provider}/login
//	POST     /api/v1/auth/refresh, /api/v1/auth/logout
//	GET      /api/v1/auth/me                         (session or bearer token)
func Router(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger(opts.Logger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(opts.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	if opts.Health != nil {
		r.Get("/health", opts.Health.Health)
		r.Get("/ready", opts.Health.Ready)
	}
	r.Handle("/metrics", middleware.MetricsHandler())

	ipLimit := func(next http.Handler) http.Handler { return next }
	if opts.IPRequestsPerMin > 0 {
		ipLimit = middleware.IPRateLimit(opts.IPRequestsPerMin)
	}
	platformLimit := middleware.PlatformRateLimit(opts.Limiter, PlatformOf(opts.Providers))
	requireSession := middleware.RequireSession(opts.LoginPath)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.LoadSession(opts.Sessions))

		r.Route("/connect/{provider}", func(r chi.Router) {
			// Starting a flow rewrites the session, so it is never a GET:
			// the Lax session cookie rides along on cross-site navigations.
			r.With(ipLimit).Post("/", opts.Connect.Connect)
			r.Get("/callback", opts.Connect.Callback)

			r.Group(func(r chi.Router) {
				r.Use(requireSession)
				r.Use(platformLimit)
				r.Post("/disconnect", opts.Connect.Disconnect)
				r.Post("/refresh", opts.Connect.Refresh)
			})
		})
		r.With(requireSession).Get("/connections", opts.Connect.List)

		r.Route("/auth", func(r chi.Router) {
			r.With(ipLimit).Get("/{provider}/login", opts.Auth.Login)
			r.Post("/refresh", opts.Auth.Refresh)
			r.Post("/logout", opts.Auth.Logout)
			r.With(middleware.BearerAuth(opts.Tokens, opts.LoginPath)).Get("/me", opts.Auth.Me)
		})
	})

	return r
}
