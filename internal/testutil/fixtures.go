// Package testutil provides common testing utilities, fixtures, and helpers
// for use across all test files in the ConnectService project.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/session"
)

// TestUser creates a test user with default values
func TestUser() *models.User {
	return &models.User{
		ID:        uuid.New(),
		Email:     "test@example.com",
		Username:  "testuser",
		AvatarURL: "https://example.com/picture.jpg",
		Plan:      models.PlanFree,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		LastLogin: TimePtr(time.Now()),
	}
}

// TestConnection creates an active connection row owned by user.
func TestConnection(user *models.User, provider models.Platform, providerID string) *models.Connection {
	now := time.Now()
	return &models.Connection{
		ID:             uuid.New(),
		UserID:         user.ID,
		Provider:       provider,
		ProviderID:     providerID,
		Username:       "handle_" + providerID,
		AccessToken:    "access-" + providerID,
		RefreshToken:   "refresh-" + providerID,
		TokenExpiresAt: TimePtr(now.Add(time.Hour)),
		Scopes:         []string{"read"},
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TestSession returns a signed-in session for user.
func TestSession(user *models.User) *session.Session {
	return &session.Session{
		UserID: user.ID.String(),
		Plan:   user.Plan,
		User: &session.UserProfile{
			Email:     user.Email,
			Username:  user.Username,
			AvatarURL: user.AvatarURL,
		},
		UpdatedAt: time.Now(),
	}
}

// TimePtr returns a pointer to the given time
func TimePtr(t time.Time) *time.Time {
	return &t
}
