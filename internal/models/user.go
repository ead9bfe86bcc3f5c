// Package models defines the core domain models for the application:
// local users, authoritative provider connection rows, and the per-platform
// connection snapshots cached in the session.
//
// All models include JSON and database struct tags. Token fields on
// persisted rows are marked with `json:"-"` to prevent accidental exposure
// in API responses.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan is the subscription tier. It is informational to this service.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanBusiness   Plan = "business"
	PlanEnterprise Plan = "enterprise"
)

// User represents a local account. Users created on first sign-in through a
// provider carry a placeholder email synthesized from the provider identity
// (see PlaceholderEmail) until they set a real one.
//
// JSON example:
//
//	{
//	  "id": "550e8400-e29b-41d4-a716-446655440000",
//	  "email": "twitter_1234567890@users.connect.local",
//	  "username": "jack",
//	  "avatar_url": "https://pbs.twimg.com/...",
//	  "plan": "free",
//	  "created_at": "2024-01-15T10:30:00Z",
//	  "updated_at": "2024-01-15T10:30:00Z"
//	}
type User struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Email     string     `json:"email" db:"email"`
	Username  string     `json:"username" db:"username"`
	AvatarURL string     `json:"avatar_url,omitempty" db:"avatar_url"`
	Plan      Plan       `json:"plan" db:"plan"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	LastLogin *time.Time `json:"last_login,omitempty" db:"last_login"`
}

// PlaceholderEmailDomain is the domain of synthesized user emails.
const PlaceholderEmailDomain = "users.connect.local"

// PlaceholderEmail derives the stable email used to key a user created from
// a provider identity: provider_providerID@users.connect.local.
func PlaceholderEmail(provider Platform, providerID string) string {
	return string(provider) + "_" + providerID + "@" + PlaceholderEmailDomain
}
