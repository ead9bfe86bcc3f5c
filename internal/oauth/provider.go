// Package oauth drives the connect, callback and disconnect lifecycle for
// every supported social platform.
//
// A Provider describes one authorization variant: the OAuth2 authorization
// code grant, the same grant with PKCE, or OAuth1.0a. The Controller runs a
// flow for any of them through one state machine:
//
//	IDLE -> AUTHORIZING -> CALLBACK_PENDING -> TOKEN_EXCHANGED ->
//	PROFILE_FETCHED -> PERSISTED -> SESSION_UPDATED
//
// Any step can end the flow in FAILED with a Reason. Failures never leave a
// reusable transaction behind and never persist a partial connection.
package oauth

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/ieraasyl/ConnectService/internal/models"
	"golang.org/x/oauth2"
)

// Protocol is the authorization variant a provider uses.
type Protocol string

const (
	ProtocolOAuth2     Protocol = "oauth2"
	ProtocolOAuth2PKCE Protocol = "oauth2_pkce"
	ProtocolOAuth1     Protocol = "oauth1a"
)

// Provider is one connectable authorization variant. Key is the route
// segment (for example "twitter-media"); Platform is the persistence key
// its connections are stored under. Several providers may share a
// platform when one of them only augments the other's connection.
type Provider struct {
	Key      string
	Platform models.Platform
	Protocol Protocol

	OAuth2 *oauth2.Config
	OAuth1 *oauth1.Config

	// RequestedScopes overrides OAuth2.Scopes for providers that encode
	// scopes in AuthParams themselves.
	RequestedScopes []string

	// AuthParams are extra authorize URL parameters, ExchangeParams extra
	// token request parameters.
	AuthParams     []oauth2.AuthCodeOption
	ExchangeParams []oauth2.AuthCodeOption

	Profile ProfileFetcher
	Revoker Revoker
	Upgrade TokenUpgrader

	// Augments names the provider key whose connection this one patches
	// with extra credentials when an active one exists.
	Augments string

	// Capabilities derives feature flags from granted scopes.
	Capabilities func(scopes []string) models.Capabilities

	// SignIn allows the provider to be used to log in.
	SignIn bool
}

// OAuth1a reports whether the provider uses OAuth1.0a.
func (p *Provider) OAuth1a() bool {
	return p.Protocol == ProtocolOAuth1
}

// PKCE reports whether the authorization code grant carries a PKCE pair.
func (p *Provider) PKCE() bool {
	return p.Protocol == ProtocolOAuth2PKCE
}

// Scopes returns the scopes requested at authorization.
func (p *Provider) Scopes() []string {
	if len(p.RequestedScopes) > 0 {
		return p.RequestedScopes
	}
	if p.OAuth2 == nil {
		return nil
	}
	return p.OAuth2.Scopes
}

func (p *Provider) capabilities(scopes []string) models.Capabilities {
	if p.Capabilities == nil {
		return models.Capabilities{}
	}
	return p.Capabilities(scopes)
}

// Registry holds the enabled providers by key.
type Registry struct {
	byKey map[string]*Provider
}

// NewRegistry returns a registry holding providers.
func NewRegistry(providers ...*Provider) *Registry {
	r := &Registry{byKey: make(map[string]*Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p *Provider) {
	r.byKey[p.Key] = p
}

// Get returns the provider for a route key.
func (r *Registry) Get(key string) (*Provider, bool) {
	p, ok := r.byKey[key]
	return p, ok
}

// Primary returns the provider that owns full connections for platform,
// that is the one that does not augment another.
func (r *Registry) Primary(platform models.Platform) (*Provider, bool) {
	for _, key := range r.Keys() {
		p := r.byKey[key]
		if p.Platform == platform && p.Augments == "" {
			return p, true
		}
	}
	return nil, false
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Platforms returns each distinct platform with a primary provider.
func (r *Registry) Platforms() []models.Platform {
	seen := make(map[models.Platform]bool)
	var out []models.Platform
	for _, key := range r.Keys() {
		p := r.byKey[key]
		if p.Augments == "" && !seen[p.Platform] {
			seen[p.Platform] = true
			out = append(out, p.Platform)
		}
	}
	return out
}

// ErrUnknownProvider is returned for route keys with no enabled provider.
var ErrUnknownProvider = errors.New("unknown or disabled provider")

// Credentials are the tokens obtained from a completed exchange.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	// TokenSecret is only set by OAuth1.0a.
	TokenSecret string
	// Expiry is zero when the token does not expire.
	Expiry time.Time
	Scopes []string
	// Extra carries provider-specific token response fields such as
	// TikTok's open_id or Twitter's screen_name.
	Extra map[string]string
}

// scopeSet splits a granted scope string on commas or spaces.
func scopeSet(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
}

func hasAny(scopes []string, want ...string) bool {
	for _, s := range scopes {
		for _, w := range want {
			if s == w {
				return true
			}
		}
	}
	return false
}
