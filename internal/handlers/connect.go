package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/ConnectService/internal/middleware"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/oauth"
	"github.com/ieraasyl/ConnectService/internal/platformerr"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/rs/zerolog/log"
)

// ConnectionReader lists a user's persisted connections. A reader that also
// implements Invalidate(ctx, userID) error has its cache dropped when a
// fresh listing is requested.
type ConnectionReader interface {
	ListConnections(ctx context.Context, userID uuid.UUID) ([]*models.Connection, error)
}

type invalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// ConnectHandler serves the platform connection endpoints: initiation,
// provider callbacks, disconnect, token refresh and listing.
type ConnectHandler struct {
	controller  *oauth.Controller
	sessions    *session.Service
	connections ConnectionReader
	ui          UIRoutes
	loginPath   string
	now         func() time.Time
}

// NewConnectHandler creates the connection handler.
//
// Example:
//
//	connectHandler := handlers.NewConnectHandler(controller, sessions, cachedStore, handlers.UIRoutes{
//	    FrontendURL:     cfg.Server.FrontendURL,
//	    ConnectionsPath: controller.DefaultReturnTo(),
//	    LoginPath:       cfg.Server.LoginPath,
//	})
func NewConnectHandler(controller *oauth.Controller, sessions *session.Service, connections ConnectionReader, ui UIRoutes) *ConnectHandler {
	if ui.ConnectionsPath == "" {
		ui.ConnectionsPath = controller.DefaultReturnTo()
	}
	if ui.LoginPath == "" {
		ui.LoginPath = "/login"
	}
	return &ConnectHandler{
		controller:  controller,
		sessions:    sessions,
		connections: connections,
		ui:          ui,
		loginPath:   ui.LoginPath,
		now:         time.Now,
	}
}

// AuthURLResponse is returned by Connect for client-driven redirects.
type AuthURLResponse struct {
	AuthURL string `json:"authUrl"`
}

// SuccessResponse is the body of idempotent write endpoints.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// Connect starts a connect flow for the provider in the URL.
//
// Query parameters:
//   - returnTo: relative path to land on afterwards (default /profile?tab=connections)
//
// OAuth2 providers answer 200 {"authUrl": "..."} for the client to follow.
// OAuth1.0a providers answer with a 302 to the provider. An anonymous
// session gets 401 with a loginUrl hint.
func (h *ConnectHandler) Connect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	sess := middleware.GetSession(r.Context())

	log.Ctx(r.Context()).Debug().
		Str("provider", provider).
		Str("device", utils.DeviceSummary(r.UserAgent())).
		Msg("Connect requested")

	res, err := h.controller.Begin(r.Context(), sess, oauth.BeginRequest{
		Provider: provider,
		Intent:   session.IntentConnect,
		ReturnTo: utils.SafeReturnPath(r.URL.Query().Get("returnTo"), h.controller.DefaultReturnTo()),
	})
	if err != nil {
		switch oauth.ReasonOf(err) {
		case oauth.ReasonNotAuthenticated:
			utils.RespondUnauthorized(w, r, h.loginPath)
		case oauth.ReasonUnknownProvider:
			utils.RespondWithError(w, r, http.StatusNotFound, "Unknown provider")
		default:
			utils.RespondWithError(w, r, http.StatusBadGateway, "Failed to start authorization")
		}
		return
	}

	if err := h.sessions.Save(w, sess); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to save session")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to save session")
		return
	}

	if res.Redirect {
		redirect(w, r, res.AuthURL)
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, AuthURLResponse{AuthURL: res.AuthURL})
}

// Callback completes a flow. It always answers with a redirect to the UI:
// on success with success, provider and username; on failure with the
// opaque error reason and provider. Provider error detail is logged only.
//
// The session is saved on failure as well so the consumed transaction
// cannot be replayed.
func (h *ConnectHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	sess := middleware.GetSession(r.Context())
	q := r.URL.Query()

	intent := session.IntentConnect
	if tx := sess.OAuthTransactions[provider]; tx != nil && tx.Intent != "" {
		intent = tx.Intent
	}

	result, err := h.controller.Complete(r.Context(), sess, provider, oauth.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		OAuthToken:       q.Get("oauth_token"),
		OAuthVerifier:    q.Get("oauth_verifier"),
		Denied:           q.Get("denied"),
	}, func(s *session.Session) error {
		return h.sessions.Save(w, s)
	})
	if err != nil {
		if saveErr := h.sessions.Save(w, sess); saveErr != nil {
			log.Ctx(r.Context()).Error().Err(saveErr).Msg("Failed to save session after failed callback")
		}
		redirect(w, r, h.ui.failure(provider, intent, oauth.ReasonOf(err)))
		return
	}

	redirect(w, r, h.ui.success(result))
}

// Disconnect removes the connection to the provider's platform. It is
// idempotent and answers {"success": true} whether or not a connection
// existed.
func (h *ConnectHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	platform, ok := h.platform(r)
	if !ok {
		utils.RespondWithError(w, r, http.StatusNotFound, "Unknown provider")
		return
	}
	sess := middleware.GetSession(r.Context())

	if err := h.controller.Disconnect(r.Context(), sess, platform); err != nil {
		if oauth.ReasonOf(err) == oauth.ReasonNotAuthenticated {
			utils.RespondUnauthorized(w, r, h.loginPath)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Str("platform", string(platform)).Msg("Failed to disconnect platform")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to disconnect")
		return
	}

	if err := h.sessions.Save(w, sess); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to save session")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to save session")
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, SuccessResponse{Success: true})
}

// RefreshErrorResponse describes a classified provider failure.
type RefreshErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	Reconnect  bool   `json:"reconnect"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Refresh renews the platform tokens of the provider's connection.
//
// Responses:
//   - 200 {"connection": {...}} without token fields
//   - 404 when the platform is not connected
//   - 409 when the connection cannot be refreshed and must be reconnected
//   - 401 {"reconnect": true} when the provider rejected the token or scope
//   - 429 or 502 for provider rate limits and outages, with retryAfter
func (h *ConnectHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	platform, ok := h.platform(r)
	if !ok {
		utils.RespondWithError(w, r, http.StatusNotFound, "Unknown provider")
		return
	}
	sess := middleware.GetSession(r.Context())

	conn, err := h.controller.Refresh(r.Context(), sess, platform)
	if err != nil {
		h.respondRefreshError(w, r, platform, err)
		return
	}

	if err := h.sessions.Save(w, sess); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to save session")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to save session")
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, map[string]any{"connection": conn})
}

func (h *ConnectHandler) respondRefreshError(w http.ResponseWriter, r *http.Request, platform models.Platform, err error) {
	if f, ok := oauth.AsFailure(err); ok && f.Reason == oauth.ReasonNotAuthenticated {
		utils.RespondUnauthorized(w, r, h.loginPath)
		return
	}
	switch {
	case errors.Is(err, oauth.ErrNotConnected):
		utils.RespondWithError(w, r, http.StatusNotFound, "Platform is not connected")
		return
	case errors.Is(err, oauth.ErrRefreshUnsupported):
		utils.RespondWithError(w, r, http.StatusConflict, "Connection cannot be refreshed, reconnect the platform")
		return
	}

	pe, ok := platformerr.AsError(err)
	if !ok {
		log.Ctx(r.Context()).Error().Err(err).Str("platform", string(platform)).Msg("Failed to refresh platform token")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to refresh token")
		return
	}

	c := pe.Classification
	status := http.StatusBadGateway
	body := RefreshErrorResponse{
		Code:      c.Code,
		Message:   "The platform rejected the request",
		Retryable: c.IsRetryable,
		RequestID: utils.GetRequestID(r),
	}
	switch c.Kind {
	case platformerr.KindRateLimit:
		status = http.StatusTooManyRequests
		body.Message = "The platform is rate limiting requests"
		if c.RetryAfter > 0 {
			body.RetryAfter = int(c.RetryAfter.Round(time.Second).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
		}
	case platformerr.KindTokenExpired, platformerr.KindPermissionDenied:
		status = http.StatusUnauthorized
		body.Reconnect = true
		body.Message = "Reconnect the platform to continue"
	case platformerr.KindServerError:
		body.Message = "The platform is unavailable"
	}
	body.Error = http.StatusText(status)

	log.Ctx(r.Context()).Warn().
		Err(err).
		Str("platform", string(platform)).
		Str("code", c.Code).
		Str("kind", string(c.Kind)).
		Msg("Platform token refresh failed")
	utils.RespondWithJSON(w, r, status, body)
}

// ConnectionView is a connection without token material.
type ConnectionView struct {
	Provider     models.Platform `json:"provider"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Account      models.Account  `json:"account"`
	ExpiresAt    *time.Time      `json:"expiresAt"`
	Expired      bool            `json:"expired"`
	ConnectedAt  time.Time       `json:"connectedAt"`
}

// ConnectionsResponse is the body of List. Source is "session" for the
// cookie snapshot and "database" for a fresh read.
type ConnectionsResponse[T any] struct {
	Source      string `json:"source"`
	Connections []T    `json:"connections"`
}

// List returns the user's connections. By default it serves the session
// snapshot; ?fresh=true reads Provider Persistence, bypassing the cache.
// Token fields are never included.
func (h *ConnectHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())

	if r.URL.Query().Get("fresh") != "true" {
		now := h.now()
		views := make([]ConnectionView, 0, len(sess.ConnectedPlatforms))
		for _, c := range sess.ConnectedPlatforms {
			if c == nil || c.Account == nil {
				continue
			}
			views = append(views, ConnectionView{
				Provider:     c.Provider,
				ConnectionID: c.ConnectionID,
				Account:      c.Account,
				ExpiresAt:    c.AccountTokens.ExpiresAt,
				Expired:      c.AccountTokens.Expired(now),
				ConnectedAt:  c.ConnectedAt,
			})
		}
		sort.Slice(views, func(i, j int) bool { return views[i].Provider < views[j].Provider })
		utils.RespondWithJSON(w, r, http.StatusOK, ConnectionsResponse[ConnectionView]{Source: "session", Connections: views})
		return
	}

	userID, err := uuid.Parse(sess.UserID)
	if err != nil {
		utils.RespondUnauthorized(w, r, h.loginPath)
		return
	}
	if inv, ok := h.connections.(invalidator); ok {
		if err := inv.Invalidate(r.Context(), userID); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("Failed to invalidate connection cache")
		}
	}
	rows, err := h.connections.ListConnections(r.Context(), userID)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to list connections")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to list connections")
		return
	}
	if rows == nil {
		rows = []*models.Connection{}
	}
	utils.RespondWithJSON(w, r, http.StatusOK, ConnectionsResponse[*models.Connection]{Source: "database", Connections: rows})
}

// platform maps the provider key in the URL onto its platform.
func (h *ConnectHandler) platform(r *http.Request) (models.Platform, bool) {
	return PlatformOf(h.controller.Providers())(r)
}

// PlatformOf returns a resolver for the {provider} URL parameter, suitable
// for middleware.PlatformRateLimit.
func PlatformOf(providers *oauth.Registry) middleware.PlatformResolver {
	return func(r *http.Request) (models.Platform, bool) {
		p, ok := providers.Get(chi.URLParam(r, "provider"))
		if !ok {
			return "", false
		}
		return p.Platform, true
	}
}
