package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownProvider is returned when a serialized connection names a
// provider with no account type.
var ErrUnknownProvider = errors.New("unknown provider")

// Account is the closed set of per-provider identity snapshots. Only the
// types in this file implement it.
type Account interface {
	Platform() Platform
	AccountID() string
	DisplayName() string
	isAccount()
}

// FacebookAccount is the Graph API /me snapshot.
type FacebookAccount struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	PictureURL string `json:"picture_url,omitempty"`
}

func (a *FacebookAccount) Platform() Platform  { return PlatformFacebook }
func (a *FacebookAccount) AccountID() string   { return a.ID }
func (a *FacebookAccount) DisplayName() string { return a.Name }
func (a *FacebookAccount) isAccount()          {}

// InstagramAccount is the Instagram Graph /me snapshot.
type InstagramAccount struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	AccountType string `json:"account_type,omitempty"`
	MediaCount  int    `json:"media_count,omitempty"`
}

func (a *InstagramAccount) Platform() Platform  { return PlatformInstagram }
func (a *InstagramAccount) AccountID() string   { return a.ID }
func (a *InstagramAccount) DisplayName() string { return a.Username }
func (a *InstagramAccount) isAccount()          {}

// TwitterAccount is the users/me (or verify_credentials) snapshot.
// MediaUpload is true once OAuth1.0a credentials are attached.
type TwitterAccount struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name,omitempty"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	MediaUpload     bool   `json:"media_upload,omitempty"`
}

func (a *TwitterAccount) Platform() Platform  { return PlatformTwitter }
func (a *TwitterAccount) AccountID() string   { return a.ID }
func (a *TwitterAccount) DisplayName() string { return a.Username }
func (a *TwitterAccount) isAccount()          {}

// TikTokAccount is the v2 user/info snapshot.
type TikTokAccount struct {
	OpenID      string `json:"open_id"`
	UnionID     string `json:"union_id,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (a *TikTokAccount) Platform() Platform { return PlatformTikTok }
func (a *TikTokAccount) AccountID() string  { return a.OpenID }
func (a *TikTokAccount) DisplayName() string {
	if a.Username != "" {
		return a.Username
	}
	return a.DisplayName
}
func (a *TikTokAccount) isAccount() {}

// AmazonAccount is the Login with Amazon profile snapshot.
type AmazonAccount struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
}

func (a *AmazonAccount) Platform() Platform  { return PlatformAmazon }
func (a *AmazonAccount) AccountID() string   { return a.UserID }
func (a *AmazonAccount) DisplayName() string { return a.Name }
func (a *AmazonAccount) isAccount()          {}

// newAccount returns an empty account of the provider's type.
func newAccount(p Platform) (Account, error) {
	switch p {
	case PlatformFacebook:
		return &FacebookAccount{}, nil
	case PlatformInstagram:
		return &InstagramAccount{}, nil
	case PlatformTwitter:
		return &TwitterAccount{}, nil
	case PlatformTikTok:
		return &TikTokAccount{}, nil
	case PlatformAmazon:
		return &AmazonAccount{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
}

// AccountTokens is the session copy of a connection's platform tokens.
// A nil ExpiresAt means the token does not expire (OAuth1.0a).
type AccountTokens struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry at now. Tokens
// without an expiry never expire.
func (t AccountTokens) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// PlatformConnection is a tagged union over the provider account types,
// selected by the Provider discriminant. It is the session's snapshot of a
// Connection row.
type PlatformConnection struct {
	Provider      Platform
	ConnectionID  string
	Account       Account
	AccountTokens AccountTokens
	ConnectedAt   time.Time
}

// NewPlatformConnection builds a snapshot whose discriminant is taken from
// the account type.
func NewPlatformConnection(connectionID string, account Account, tokens AccountTokens, connectedAt time.Time) *PlatformConnection {
	return &PlatformConnection{
		Provider:      account.Platform(),
		ConnectionID:  connectionID,
		Account:       account,
		AccountTokens: tokens,
		ConnectedAt:   connectedAt,
	}
}

type platformConnectionJSON struct {
	Provider      Platform        `json:"provider"`
	ConnectionID  string          `json:"connection_id,omitempty"`
	Account       json.RawMessage `json:"account"`
	AccountTokens AccountTokens   `json:"account_tokens"`
	ConnectedAt   time.Time       `json:"connected_at"`
}

// MarshalJSON encodes the union with its provider discriminant. The account
// type must agree with Provider.
func (c PlatformConnection) MarshalJSON() ([]byte, error) {
	if c.Account == nil {
		return nil, fmt.Errorf("connection %s has no account", c.Provider)
	}
	if c.Account.Platform() != c.Provider {
		return nil, fmt.Errorf("connection provider %s does not match %s account", c.Provider, c.Account.Platform())
	}
	account, err := json.Marshal(c.Account)
	if err != nil {
		return nil, err
	}
	return json.Marshal(platformConnectionJSON{
		Provider:      c.Provider,
		ConnectionID:  c.ConnectionID,
		Account:       account,
		AccountTokens: c.AccountTokens,
		ConnectedAt:   c.ConnectedAt,
	})
}

// UnmarshalJSON decodes the account into the type named by provider.
func (c *PlatformConnection) UnmarshalJSON(data []byte) error {
	var raw platformConnectionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	account, err := newAccount(raw.Provider)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw.Account, account); err != nil {
		return fmt.Errorf("decode %s account: %w", raw.Provider, err)
	}
	*c = PlatformConnection{
		Provider:      raw.Provider,
		ConnectionID:  raw.ConnectionID,
		Account:       account,
		AccountTokens: raw.AccountTokens,
		ConnectedAt:   raw.ConnectedAt,
	}
	return nil
}
