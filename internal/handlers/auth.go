package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/ConnectService/internal/middleware"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/oauth"
	"github.com/ieraasyl/ConnectService/internal/services"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/rs/zerolog/log"
)

// UserReader loads users for token refresh.
type UserReader interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AppTokens manages the application's own login tokens.
type AppTokens interface {
	Refresh(ctx context.Context, user *models.User, refreshToken string) (*session.UserTokens, error)
	Revoke(ctx context.Context, tokens *session.UserTokens) error
}

// AuthHandler handles sign-in through a provider and the application
// token lifecycle: refresh, logout and the current identity.
type AuthHandler struct {
	controller *oauth.Controller
	sessions   *session.Service
	tokens     AppTokens
	users      UserReader
	ui         UIRoutes
}

// NewAuthHandler creates a new authentication handler.
//
// Example:
//
//	authHandler := handlers.NewAuthHandler(controller, sessions, tokenService, store, ui)
//	r.Get("/api/v1/auth/{provider}/login", authHandler.Login)
//	r.Post("/api/v1/auth/refresh", authHandler.Refresh)
func NewAuthHandler(controller *oauth.Controller, sessions *session.Service, tokens AppTokens, users UserReader, ui UIRoutes) *AuthHandler {
	if ui.ConnectionsPath == "" {
		ui.ConnectionsPath = controller.DefaultReturnTo()
	}
	if ui.LoginPath == "" {
		ui.LoginPath = "/login"
	}
	return &AuthHandler{
		controller: controller,
		sessions:   sessions,
		tokens:     tokens,
		users:      users,
		ui:         ui,
	}
}

// Login starts a sign-in flow and redirects to the provider. No session is
// required. Failures redirect to the login page with an error tag.
//
// Query parameters:
//   - returnTo: relative path to land on after signing in
//   - remember: "true" for a persistent session cookie
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	sess := middleware.GetSession(r.Context())
	q := r.URL.Query()

	log.Ctx(r.Context()).Info().
		Str("provider", provider).
		Str("device", utils.DeviceSummary(r.UserAgent())).
		Msg("Sign-in requested")

	res, err := h.controller.Begin(r.Context(), sess, oauth.BeginRequest{
		Provider:   provider,
		Intent:     session.IntentSignIn,
		ReturnTo:   utils.SafeReturnPath(q.Get("returnTo"), "/"),
		RememberMe: q.Get("remember") == "true",
	})
	if err != nil {
		redirect(w, r, h.ui.failure(provider, session.IntentSignIn, oauth.ReasonOf(err)))
		return
	}

	if err := h.sessions.Save(w, sess); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to save session")
		redirect(w, r, h.ui.failure(provider, session.IntentSignIn, oauth.ReasonSessionUpdateFailed))
		return
	}
	redirect(w, r, res.AuthURL)
}

// TokenResponse carries a fresh application access token. The refresh
// token stays in the session cookie.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Refresh rotates the session's application tokens. The presented refresh
// token is single use; replaying it answers 401.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	if sess.UserTokens == nil || sess.UserTokens.RefreshToken == "" {
		utils.RespondUnauthorized(w, r, h.ui.LoginPath)
		return
	}

	userID, err := uuid.Parse(sess.UserID)
	if err != nil {
		utils.RespondUnauthorized(w, r, h.ui.LoginPath)
		return
	}
	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			utils.RespondUnauthorized(w, r, h.ui.LoginPath)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to load user")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to refresh token")
		return
	}

	tokens, err := h.tokens.Refresh(r.Context(), user, sess.UserTokens.RefreshToken)
	if err != nil {
		if errors.Is(err, services.ErrInvalidToken) || errors.Is(err, services.ErrTokenRevoked) || errors.Is(err, services.ErrWrongType) {
			log.Ctx(r.Context()).Warn().Err(err).Msg("Refresh token rejected")
			utils.RespondUnauthorized(w, r, h.ui.LoginPath)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to refresh token")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to refresh token")
		return
	}

	sess.UserTokens = tokens
	if err := h.sessions.Save(w, sess); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to save session")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to save session")
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, TokenResponse{
		AccessToken: tokens.AccessToken,
		ExpiresAt:   tokens.ExpiresAt,
	})
}

// Logout revokes the application tokens and clears the session cookie.
// Platform connections stay persisted.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	if err := h.tokens.Revoke(r.Context(), sess.UserTokens); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("Failed to revoke application tokens")
	}

	h.sessions.Clear(w)
	log.Ctx(r.Context()).Info().Str("user_id", sess.UserID).Msg("User logged out")
	utils.RespondWithJSON(w, r, http.StatusOK, SuccessResponse{Success: true})
}

// MeResponse is the verified identity of the caller.
type MeResponse struct {
	UserID             string            `json:"userId"`
	Email              string            `json:"email"`
	Username           string            `json:"username,omitempty"`
	AvatarURL          string            `json:"avatar,omitempty"`
	Plan               models.Plan       `json:"plan"`
	ConnectedPlatforms []models.Platform `json:"connectedPlatforms"`
}

// Me returns the identity from the session cookie, or from a bearer access
// token when there is no session.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	if sess.Authenticated() {
		platforms := make([]models.Platform, 0, len(sess.ConnectedPlatforms))
		for p := range sess.ConnectedPlatforms {
			platforms = append(platforms, p)
		}
		sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })

		utils.RespondWithJSON(w, r, http.StatusOK, MeResponse{
			UserID:             sess.UserID,
			Email:              sess.User.Email,
			Username:           sess.User.Username,
			AvatarURL:          sess.User.AvatarURL,
			Plan:               sess.Plan,
			ConnectedPlatforms: platforms,
		})
		return
	}

	if claims, ok := middleware.GetClaims(r.Context()); ok {
		utils.RespondWithJSON(w, r, http.StatusOK, MeResponse{
			UserID:             claims.UserID,
			Email:              claims.Email,
			Plan:               claims.Plan,
			ConnectedPlatforms: []models.Platform{},
		})
		return
	}

	utils.RespondUnauthorized(w, r, h.ui.LoginPath)
}
