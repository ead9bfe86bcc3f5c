// Package middleware provides HTTP middleware components for the API.
// Middleware functions wrap HTTP handlers to provide cross-cutting concerns
// like authentication, logging, metrics, and rate limiting.
//
// Middleware in this package:
//   - Session cookie loading and the authenticated-session guard
//   - Bearer authentication with application access tokens
//   - Structured request/response logging with correlation IDs
//   - Prometheus metrics collection
//   - Per-platform and per-IP rate limiting
//
// All middleware is designed to be composable with Chi router.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ieraasyl/ConnectService/internal/services"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/rs/zerolog/log"
)

// AccessTokenValidator verifies application access tokens.
type AccessTokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*services.Claims, error)
}

type claimsContextKey struct{}

// BearerAuth validates an "Authorization: Bearer <token>" header carrying
// an application access token (the session's userTokens.accessToken) and
// stores its claims in the request context. Requests without the header
// pass through untouched so cookie-authenticated browsers are unaffected.
// A present but invalid or revoked token is rejected with 401.
//
// Usage:
//
//	r.With(middleware.BearerAuth(tokens, cfg.Server.LoginPath)).Get("/api/v1/auth/me", authHandler.Me)
//
// Accessing claims in handlers:
//
//	if claims, ok := middleware.GetClaims(r.Context()); ok {
//	    // claims.UserID, claims.Email, claims.Plan
//	}
func BearerAuth(validator AccessTokenValidator, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				log.Ctx(r.Context()).Warn().Msg("Malformed authorization header")
				utils.RespondUnauthorized(w, r, loginPath)
				return
			}

			claims, err := validator.ValidateAccessToken(r.Context(), token)
			if err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Msg("Invalid access token")
				utils.RespondUnauthorized(w, r, loginPath)
				return
			}

			log.Ctx(r.Context()).Debug().
				Str("user_id", claims.UserID).
				Msg("User authenticated via access token")

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims returns the access token claims stored by BearerAuth.
func GetClaims(ctx context.Context) (*services.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*services.Claims)
	return claims, ok && claims != nil
}
