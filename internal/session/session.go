// Package session implements the stateless application session: a signed
// JWT stored in a single cookie that carries the user's identity, any
// in-flight OAuth transactions and a snapshot of connected platforms.
//
// The session is never trusted blindly. Codec.Decode verifies signature and
// expiry before any field is read; Codec.Peek skips verification and exists
// only for display. All mutations go through Service so that transaction
// and connection invariants are enforced in one place.
//
// Two concurrent requests from the same browser can each load, mutate and
// save the session; the last write wins. Version and UpdatedAt are bumped
// on every save so such races are visible in logs.
package session

import (
	"time"

	"github.com/ieraasyl/ConnectService/internal/models"
)

// Session is the decoded cookie payload. The zero value is an
// unauthenticated session.
type Session struct {
	UserID     string       `json:"userId,omitempty"`
	Plan       models.Plan  `json:"plan,omitempty"`
	User       *UserProfile `json:"user,omitempty"`
	UserTokens *UserTokens  `json:"userTokens,omitempty"`
	RememberMe bool         `json:"rememberMe,omitempty"`

	// OAuthTransactions holds at most one pending transaction per provider
	// key. Entries are removed when a callback consumes them.
	OAuthTransactions map[string]*OAuthTransaction `json:"oauthTransactions,omitempty"`

	// ConnectedPlatforms is a cache of Provider Persistence rows for fast
	// reads. It may be stale; writes always update persistence first.
	ConnectedPlatforms map[models.Platform]*models.PlatformConnection `json:"connectedPlatforms,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserProfile holds denormalized display fields for the signed-in user.
type UserProfile struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar,omitempty"`
}

// UserTokens are the application's own login tokens, distinct from
// platform OAuth tokens.
type UserTokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Authenticated reports whether the session carries an application
// identity complete enough to attach connections to.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != "" && s.User != nil && s.User.Username != ""
}

// Connection returns the snapshot for platform, or nil.
func (s *Session) Connection(p models.Platform) *models.PlatformConnection {
	if s == nil {
		return nil
	}
	return s.ConnectedPlatforms[p]
}

// Intent distinguishes attaching a connection to a signed-in user from
// signing in through a provider.
type Intent string

const (
	IntentConnect Intent = "connect"
	IntentSignIn  Intent = "signin"
)

// LinkingKind selects how a completed flow is persisted.
type LinkingKind string

const (
	// LinkStandalone upserts a full connection row.
	LinkStandalone LinkingKind = "standalone"
	// LinkAugmentExisting patches extra credentials onto an existing row
	// and leaves its other tokens untouched.
	LinkAugmentExisting LinkingKind = "augment_existing"
)

// LinkingMode is Standalone or AugmentExisting(ExistingConnectionID).
type LinkingMode struct {
	Kind                 LinkingKind `json:"kind"`
	ExistingConnectionID string      `json:"existingConnectionId,omitempty"`
}

// Standalone returns the standalone linking mode.
func Standalone() LinkingMode {
	return LinkingMode{Kind: LinkStandalone}
}

// AugmentExisting returns a linking mode that patches the given row.
func AugmentExisting(connectionID string) LinkingMode {
	return LinkingMode{Kind: LinkAugmentExisting, ExistingConnectionID: connectionID}
}

// Augments reports whether the mode patches an existing row.
func (m LinkingMode) Augments() bool {
	return m.Kind == LinkAugmentExisting && m.ExistingConnectionID != ""
}

// OAuthTransaction is the short-lived state between the authorize redirect
// and the provider callback. OAuth2 flows set State (and the PKCE pair when
// used); OAuth1.0a flows set the request token pair.
type OAuthTransaction struct {
	Provider         string      `json:"provider"`
	State            string      `json:"state,omitempty"`
	CodeVerifier     string      `json:"codeVerifier,omitempty"`
	CodeChallenge    string      `json:"codeChallenge,omitempty"`
	OAuthToken       string      `json:"oauthToken,omitempty"`
	OAuthTokenSecret string      `json:"oauthTokenSecret,omitempty"`
	ReturnTo         string      `json:"returnTo"`
	Intent           Intent      `json:"intent"`
	Linking          LinkingMode `json:"linking"`
	RememberMe       bool        `json:"rememberMe,omitempty"`
	InitiatedAt      time.Time   `json:"initiatedAt"`
}
