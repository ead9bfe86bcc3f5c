package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/ieraasyl/ConnectService/internal/oauth"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/pkg/utils"
)

// UIRoutes are the frontend destinations of browser redirects. Paths are
// relative to FrontendURL.
type UIRoutes struct {
	FrontendURL string
	// ConnectionsPath receives connect results, e.g. /profile?tab=connections.
	ConnectionsPath string
	// LoginPath receives sign-in failures.
	LoginPath string
}

func (u UIRoutes) url(path string, params url.Values) string {
	return utils.AppendQuery(strings.TrimRight(u.FrontendURL, "/")+path, params)
}

// success is the landing URL of a completed flow.
func (u UIRoutes) success(result *oauth.CompleteResult) string {
	params := url.Values{
		"success":  {"true"},
		"provider": {result.Provider},
	}
	if result.Connection != nil && result.Connection.Username != "" {
		params.Set("username", result.Connection.Username)
	}
	if result.Intent != session.IntentSignIn {
		params.Set("tab", "connections")
	}
	return u.url(utils.SafeReturnPath(result.ReturnTo, u.ConnectionsPath), params)
}

// failure is the deterministic error route for a FAILED flow. Only the
// opaque reason tag reaches the browser.
func (u UIRoutes) failure(provider string, intent session.Intent, reason oauth.Reason) string {
	params := url.Values{
		"error":    {string(reason)},
		"provider": {provider},
	}
	if intent == session.IntentSignIn {
		return u.url(u.LoginPath, params)
	}
	params.Set("tab", "connections")
	return u.url(u.ConnectionsPath, params)
}

func redirect(w http.ResponseWriter, r *http.Request, target string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}
