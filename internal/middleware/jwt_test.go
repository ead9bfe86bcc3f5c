package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ieraasyl/ConnectService/internal/services"
	"github.com/ieraasyl/ConnectService/internal/testutil"
	"github.com/ieraasyl/ConnectService/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTokens creates a token service backed by miniredis.
func setupTokens(t *testing.T) *services.TokenService {
	t.Helper()

	mr, cleanup := testutil.SetupMiniRedis(t)
	t.Cleanup(cleanup)

	return services.NewTokenService(&config.JWTConfig{
		Secret:        "test-secret-key-minimum-32-bytes-long!",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}, testutil.NewTestRedisDB(t, mr))
}

// claimsHandler echoes the authenticated user id, or "anonymous".
func claimsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte("UserID: " + claims.UserID + ", Email: " + claims.Email))
	}
}

func TestBearerAuth(t *testing.T) {
	tokens := setupTokens(t)
	ctx := context.Background()
	handler := BearerAuth(tokens, "/login")(claimsHandler())

	t.Run("accepts a valid access token", func(t *testing.T) {
		user := testutil.TestUser()
		pair, err := tokens.IssueTokens(ctx, user)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		testutil.SetAuthHeader(req, pair.AccessToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), user.ID.String())
		assert.Contains(t, rec.Body.String(), user.Email)
	})

	t.Run("passes requests without a header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "anonymous", rec.Body.String())
	})

	t.Run("rejects a refresh token", func(t *testing.T) {
		pair, err := tokens.IssueTokens(ctx, testutil.TestUser())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		testutil.SetAuthHeader(req, pair.RefreshToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"loginUrl":"/login"`)
	})

	t.Run("rejects a revoked token", func(t *testing.T) {
		pair, err := tokens.IssueTokens(ctx, testutil.TestUser())
		require.NoError(t, err)
		require.NoError(t, tokens.Revoke(ctx, pair))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		testutil.SetAuthHeader(req, pair.AccessToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects malformed headers", func(t *testing.T) {
		for _, header := range []string{"Basic dXNlcjpwYXNz", "Bearer ", "Bearer not-a-jwt", "token"} {
			t.Run(header, func(t *testing.T) {
				req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
				req.Header.Set("Authorization", header)
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)

				assert.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		}
	})
}
