package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusNotFound, "Unknown provider")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Not Found", body.Error)
	assert.Equal(t, "Unknown provider", body.Message)
	assert.Empty(t, body.LoginURL)
}

func TestRespondUnauthorized(t *testing.T) {
	t.Run("plain login path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondUnauthorized(rec, httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil), "/login")

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "/login", body.LoginURL)
	})

	t.Run("carries a safe returnTo", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondUnauthorized(rec, httptest.NewRequest(http.MethodGet, "/x?returnTo=%2Fsettings", nil), "/login")

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "/login?returnTo=%2Fsettings", body.LoginURL)
	})

	t.Run("replaces an unsafe returnTo", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondUnauthorized(rec, httptest.NewRequest(http.MethodGet, "/x?returnTo="+url.QueryEscape("https://evil.example"), nil), "/login")

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "/login?returnTo=%2F", body.LoginURL)
	})
}

func TestSafeReturnPath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"/profile?tab=connections", "/profile?tab=connections"},
		{"/", "/"},
		{"", "/fallback"},
		{"profile", "/fallback"},
		{"https://evil.example/x", "/fallback"},
		{"//evil.example/x", "/fallback"},
		{`/\evil.example`, "/fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeReturnPath(tt.raw, "/fallback"))
		})
	}
}

func TestAppendQuery(t *testing.T) {
	got := AppendQuery("http://app.test/profile?tab=overview&keep=1", url.Values{
		"tab":     {"connections"},
		"success": {"true"},
	})

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/profile", u.Path)
	assert.Equal(t, "connections", u.Query().Get("tab"))
	assert.Equal(t, "true", u.Query().Get("success"))
	assert.Equal(t, "1", u.Query().Get("keep"))
	assert.Len(t, u.Query()["tab"], 1)
}

func TestAuthCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	SetAuthCookie(rec, "session", "abc", 0, true)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	rec = httptest.NewRecorder()
	ClearAuthCookie(rec, "session", false)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestDeviceSummary(t *testing.T) {
	assert.Equal(t, "Unknown Device", DeviceSummary(""))

	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	summary := DeviceSummary(chrome)
	assert.Contains(t, summary, "Chrome")
	assert.Contains(t, summary, "Windows")
}
