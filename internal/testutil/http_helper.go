package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionCookie returns the cookie named name set by rec, failing the test
// when it is absent.
func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	require.Failf(t, "session cookie missing", "response did not set %q", name)
	return nil
}

// AssertSessionCookie decodes the session cookie set by rec through codec.
// A cookie that fails verification fails the test.
func AssertSessionCookie(t *testing.T, rec *httptest.ResponseRecorder, codec *session.Codec, name string) *session.Session {
	t.Helper()

	cookie := sessionCookie(t, rec, name)
	assert.True(t, cookie.HttpOnly, "session cookie must be HttpOnly")
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	sess := codec.Decode(cookie.Value)
	require.NotNil(t, sess, "session cookie does not verify")
	return sess
}

// AssertSessionCleared checks that rec expires the session cookie.
func AssertSessionCleared(t *testing.T, rec *httptest.ResponseRecorder, name string) {
	t.Helper()

	cookie := sessionCookie(t, rec, name)
	assert.Less(t, cookie.MaxAge, 0)
	assert.Empty(t, cookie.Value)
}

// WithSession signs sess with sessions and attaches it to req.
func WithSession(t *testing.T, sessions *session.Service, req *http.Request, sess *session.Session) *http.Request {
	t.Helper()

	rec := httptest.NewRecorder()
	require.NoError(t, sessions.Save(rec, sess))
	req.AddCookie(sessionCookie(t, rec, sessions.CookieName()))
	return req
}

// AssertErrorResponse checks status and the JSON error envelope and
// returns the decoded body.
func AssertErrorResponse(t *testing.T, rec *httptest.ResponseRecorder, status int) utils.ErrorResponse {
	t.Helper()

	require.Equal(t, status, rec.Code, rec.Body.String())
	AssertJSONContentType(t, rec)

	var body utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusText(status), body.Error)
	return body
}

// AssertRedirect checks for a 302 and parses its Location.
func AssertRedirect(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()

	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return u
}

func AssertJSONContentType(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

// SetAuthHeader sets a Bearer access token.
func SetAuthHeader(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}
