package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Platform identifies an external provider.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformTikTok    Platform = "tiktok"
	PlatformAmazon    Platform = "amazon"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformYouTube   Platform = "youtube"
)

// Valid reports whether p is a platform this service knows.
func (p Platform) Valid() bool {
	switch p {
	case PlatformFacebook, PlatformInstagram, PlatformTwitter, PlatformTikTok,
		PlatformAmazon, PlatformLinkedIn, PlatformYouTube:
		return true
	}
	return false
}

// Capabilities are the feature flags a connection's granted scopes unlock.
type Capabilities struct {
	CanPublishContent bool `json:"can_publish_content" db:"can_publish_content"`
	CanAccessInsights bool `json:"can_access_insights" db:"can_access_insights"`
	CanManageAds      bool `json:"can_manage_ads" db:"can_manage_ads"`
}

// Connection is the authoritative provider connection row. It is keyed by
// (UserID, Provider, ProviderID) and outlives any session. OAuth1Token and
// AccessTokenSecret are only set for OAuth1.0a credentials. A row created by
// an OAuth1.0a flow alone keeps the same token in AccessToken too.
type Connection struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	UserID            uuid.UUID      `json:"user_id" db:"user_id"`
	Provider          Platform       `json:"provider" db:"provider"`
	ProviderID        string         `json:"provider_id" db:"provider_id"`
	Username          string         `json:"username" db:"username"`
	AccessToken       string         `json:"-" db:"access_token"`
	RefreshToken      string         `json:"-" db:"refresh_token"`
	OAuth1Token       string         `json:"-" db:"oauth1_token"`
	AccessTokenSecret string         `json:"-" db:"access_token_secret"`
	TokenExpiresAt    *time.Time     `json:"token_expires_at,omitempty" db:"token_expires_at"`
	Scopes            []string       `json:"scopes" db:"scopes"`
	Capabilities      Capabilities   `json:"capabilities"`
	Profile           datatypes.JSON `json:"profile,omitempty" db:"profile"`
	AnalyticsSummary  datatypes.JSON `json:"analytics_summary,omitempty" db:"analytics_summary"`
	IsActive          bool           `json:"is_active" db:"is_active"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// TokenUpdate carries refreshed platform tokens. An empty RefreshToken
// keeps the stored one.
type TokenUpdate struct {
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
}
