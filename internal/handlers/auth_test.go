package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withTokens issues application tokens for user onto sess.
func (e *testEnv) withTokens(t *testing.T, user *models.User, sess *session.Session) *session.UserTokens {
	t.Helper()

	tokens, err := e.tokens.IssueTokens(context.Background(), user)
	require.NoError(t, err)
	sess.UserTokens = tokens
	return tokens
}

func TestLogin(t *testing.T) {
	t.Run("redirects to the provider with a sign-in transaction", func(t *testing.T) {
		env := setupEnv(t)

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/auth/twitter/login?returnTo=/dashboard&remember=true", nil), nil)

		loc := testutil.AssertRedirect(t, rec)
		assert.Equal(t, "/tw/auth", loc.Path)
		assert.NotEmpty(t, loc.Query().Get("state"))

		tx := env.sessionOf(t, rec).OAuthTransactions["twitter"]
		require.NotNil(t, tx)
		assert.Equal(t, session.IntentSignIn, tx.Intent)
		assert.Equal(t, "/dashboard", tx.ReturnTo)
		assert.True(t, tx.RememberMe)
	})

	t.Run("absolute returnTo is ignored", func(t *testing.T) {
		env := setupEnv(t)

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/auth/twitter/login?returnTo=https://evil.example", nil), nil)
		testutil.AssertRedirect(t, rec)

		tx := env.sessionOf(t, rec).OAuthTransactions["twitter"]
		require.NotNil(t, tx)
		assert.Equal(t, "/", tx.ReturnTo)
	})

	t.Run("unknown provider lands on the login page", func(t *testing.T) {
		env := setupEnv(t)

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/auth/myspace/login", nil), nil)

		loc := testutil.AssertRedirect(t, rec)
		assert.Equal(t, "app.test", loc.Host)
		assert.Equal(t, "/login", loc.Path)
		assert.Equal(t, "unknown_provider", loc.Query().Get("error"))
		assert.Empty(t, loc.Query().Get("tab"))
	})

	t.Run("completes sign-in and issues application tokens", func(t *testing.T) {
		env := setupEnv(t)

		started := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/auth/twitter/login?returnTo=/dashboard", nil), nil)
		state := testutil.AssertRedirect(t, started).Query().Get("state")

		req := httptest.NewRequest(http.MethodGet, "/api/v1/connect/twitter/callback?code=code-1&state="+url.QueryEscape(state), nil)
		rec := env.do(t, env.carry(t, started, req), nil)

		loc := testutil.AssertRedirect(t, rec)
		assert.Equal(t, "/dashboard", loc.Path)
		assert.Equal(t, "true", loc.Query().Get("success"))
		assert.Equal(t, "twitter", loc.Query().Get("provider"))
		assert.Empty(t, loc.Query().Get("tab"))

		saved := env.sessionOf(t, rec)
		assert.True(t, saved.Authenticated())
		require.NotNil(t, saved.UserTokens)
		assert.NotEmpty(t, saved.UserTokens.AccessToken)
		require.Len(t, env.store.Users(), 1)
		assert.Equal(t, env.store.Users()[0].ID.String(), saved.UserID)
		assert.NotNil(t, saved.Connection(models.PlatformTwitter))
	})

	t.Run("failed sign-in redirects to the login page", func(t *testing.T) {
		env := setupEnv(t)

		started := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/auth/twitter/login", nil), nil)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/connect/twitter/callback?error=access_denied", nil)
		rec := env.do(t, env.carry(t, started, req), nil)

		loc := testutil.AssertRedirect(t, rec)
		assert.Equal(t, "/login", loc.Path)
		assert.Equal(t, "user_denied", loc.Query().Get("error"))
		assert.Empty(t, env.store.Users())
	})
}

func TestAuthRefresh(t *testing.T) {
	t.Run("rotates the application tokens", func(t *testing.T) {
		env := setupEnv(t)
		user, sess := env.signedIn()
		old := env.withTokens(t, user, sess)

		rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil), sess)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body TokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.AccessToken)
		assert.False(t, body.ExpiresAt.IsZero())
		assert.NotContains(t, rec.Body.String(), "refresh")

		saved := env.sessionOf(t, rec)
		require.NotNil(t, saved.UserTokens)
		assert.NotEqual(t, old.RefreshToken, saved.UserTokens.RefreshToken)
		assert.Equal(t, body.AccessToken, saved.UserTokens.AccessToken)
	})

	t.Run("a used refresh token is rejected", func(t *testing.T) {
		env := setupEnv(t)
		user, sess := env.signedIn()
		env.withTokens(t, user, sess)

		first := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil), sess)
		require.Equal(t, http.StatusOK, first.Code)

		replay := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil), sess)
		assert.Equal(t, http.StatusUnauthorized, replay.Code)
	})

	t.Run("session without tokens", func(t *testing.T) {
		env := setupEnv(t)
		_, sess := env.signedIn()

		rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil), sess)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("deleted user", func(t *testing.T) {
		env := setupEnv(t)
		user := testutil.TestUser()
		sess := testutil.TestSession(user)
		env.withTokens(t, user, sess)

		rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil), sess)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	env := setupEnv(t)
	user, sess := env.signedIn()
	tokens := env.withTokens(t, user, sess)
	env.store.AddConnection(testutil.TestConnection(user, models.PlatformTwitter, "tw-1"))

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), sess)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	testutil.AssertSessionCleared(t, rec, env.sessions.CookieName())

	_, err := env.tokens.ValidateAccessToken(context.Background(), tokens.AccessToken)
	assert.Error(t, err, "access token is revoked")
	assert.Len(t, env.store.Connections(), 1, "connections outlive the session")

	refresh := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil), sess)
	assert.Equal(t, http.StatusUnauthorized, refresh.Code)
}

func TestMe(t *testing.T) {
	t.Run("session identity", func(t *testing.T) {
		env := setupEnv(t)
		user, sess := env.signedIn()
		env.sessions.AddPlatformConnection(sess, models.NewPlatformConnection(
			"conn-1", &models.TwitterAccount{ID: "tw-1", Username: "ada"}, models.AccountTokens{AccessToken: "a"}, user.CreatedAt,
		))

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), sess)
		require.Equal(t, http.StatusOK, rec.Code)

		var body MeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, user.ID.String(), body.UserID)
		assert.Equal(t, user.Email, body.Email)
		assert.Equal(t, user.Username, body.Username)
		assert.Equal(t, []models.Platform{models.PlatformTwitter}, body.ConnectedPlatforms)
	})

	t.Run("bearer token", func(t *testing.T) {
		env := setupEnv(t)
		user := env.store.AddUser(testutil.TestUser())
		tokens, err := env.tokens.IssueTokens(context.Background(), user)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		testutil.SetAuthHeader(req, tokens.AccessToken)
		rec := env.do(t, req, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body MeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, user.ID.String(), body.UserID)
		assert.Empty(t, body.ConnectedPlatforms)
	})

	t.Run("invalid bearer token", func(t *testing.T) {
		env := setupEnv(t)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		testutil.SetAuthHeader(req, "not-a-jwt")
		rec := env.do(t, req, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		env := setupEnv(t)

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "loginUrl")
	})
}
