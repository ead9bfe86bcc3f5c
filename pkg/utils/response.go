package utils

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mileusna/useragent"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// ErrorResponse represents a standardized JSON error body.
type ErrorResponse struct {
	Error     string `json:"error"`                // HTTP status text (e.g., "Bad Request")
	Message   string `json:"message,omitempty"`    // Detailed error message
	LoginURL  string `json:"loginUrl,omitempty"`   // Set on 401 responses
	RequestID string `json:"request_id,omitempty"` // Request ID for log correlation
}

// GetRequestID returns the request id assigned by hlog.RequestIDHandler,
// or an empty string outside a logged request.
func GetRequestID(r *http.Request) string {
	if id, ok := hlog.IDFromRequest(r); ok {
		return id.String()
	}
	return ""
}

// RespondWithError writes a JSON error body with the given status code.
//
// Example:
//
//	utils.RespondWithError(w, r, http.StatusBadRequest, "Unknown provider")
//	// {"error":"Bad Request","message":"Unknown provider","request_id":"..."}
func RespondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	RespondWithJSON(w, r, statusCode, ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		RequestID: GetRequestID(r),
	})
}

// RespondUnauthorized writes a 401 carrying a loginUrl hint that returns the
// user to the current page after signing in.
func RespondUnauthorized(w http.ResponseWriter, r *http.Request, loginPath string) {
	loginURL := loginPath
	if returnTo := r.URL.Query().Get("returnTo"); returnTo != "" {
		loginURL = AppendQuery(loginPath, url.Values{"returnTo": {SafeReturnPath(returnTo, "/")}})
	}
	RespondWithJSON(w, r, http.StatusUnauthorized, ErrorResponse{
		Error:     http.StatusText(http.StatusUnauthorized),
		Message:   "Authentication required",
		LoginURL:  loginURL,
		RequestID: GetRequestID(r),
	})
}

// RespondWithJSON writes data as JSON with the given status code.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", GetRequestID(r)).
			Msg("Failed to encode JSON response")
	}
}

// SetAuthCookie sets an HttpOnly, SameSite=Lax cookie on path "/". A zero
// maxAge produces a browser-session cookie.
func SetAuthCookie(w http.ResponseWriter, name, value string, maxAge time.Duration, isProduction bool) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge.Seconds())
		cookie.Expires = time.Now().Add(maxAge)
	}
	http.SetCookie(w, cookie)
}

// ClearAuthCookie expires the named cookie.
func ClearAuthCookie(w http.ResponseWriter, name string, isProduction bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

// SafeReturnPath accepts only same-origin relative paths ("/profile?x=1").
// Absolute URLs, scheme-relative "//host" values and backslash tricks
// return fallback.
func SafeReturnPath(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return raw
}

// AppendQuery sets params on target, replacing any existing values for the
// same keys. target may be relative or absolute.
func AppendQuery(target string, params url.Values) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	for key, values := range params {
		q.Del(key)
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// DeviceSummary renders a User-Agent as "Chrome 120.0 · Windows 10 · Desktop"
// for log fields.
func DeviceSummary(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}

	ua := useragent.Parse(userAgent)
	var parts []string
	if ua.Name != "" {
		parts = append(parts, strings.TrimSpace(ua.Name+" "+ua.Version))
	}
	if ua.OS != "" {
		parts = append(parts, strings.TrimSpace(ua.OS+" "+ua.OSVersion))
	}
	switch {
	case ua.Mobile:
		parts = append(parts, "Mobile")
	case ua.Tablet:
		parts = append(parts, "Tablet")
	case ua.Desktop:
		parts = append(parts, "Desktop")
	case ua.Bot:
		parts = append(parts, "Bot")
	}

	if len(parts) == 0 {
		if len(userAgent) > 100 {
			return userAgent[:100] + "..."
		}
		return userAgent
	}
	return strings.Join(parts, " · ")
}
