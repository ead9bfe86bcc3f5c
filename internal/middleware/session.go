package middleware

import (
	"context"
	"net/http"

	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type sessionContextKey struct{}

// LoadSession verifies the session cookie once per request and stores the
// decoded session in the request context. A missing or invalid cookie
// yields an empty session, so handlers always get a non-nil value from
// GetSession.
//
// When the session is authenticated its user id is added to the request
// logger.
func LoadSession(sessions *session.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := sessions.Load(r)
			if sess.Authenticated() {
				log.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
					return c.Str("user_id", sess.UserID)
				})
			}
			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession returns the session stored by LoadSession, or an empty
// session when the middleware did not run.
func GetSession(ctx context.Context) *session.Session {
	if sess, ok := ctx.Value(sessionContextKey{}).(*session.Session); ok && sess != nil {
		return sess
	}
	return &session.Session{}
}

// RequireSession rejects requests without an authenticated session with
// 401 and a loginUrl hint. It must run after LoadSession.
//
// Example response:
//
//	{"error":"Unauthorized","message":"Authentication required","loginUrl":"/login?returnTo=%2Fprofile"}
func RequireSession(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !GetSession(r.Context()).Authenticated() {
				log.Ctx(r.Context()).Debug().Msg("Request without an authenticated session")
				utils.RespondUnauthorized(w, r, loginPath)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
