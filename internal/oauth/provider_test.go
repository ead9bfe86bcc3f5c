package oauth

import (
	"testing"

	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviders(t *testing.T) {
	server := config.ServerConfig{BaseURL: "https://api.example.com/"}

	t.Run("registers only configured providers", func(t *testing.T) {
		cfg := config.ProvidersConfig{
			Twitter: config.ProviderCredentials{ClientID: "id", ClientSecret: "secret"},
			TikTok:  config.ProviderCredentials{ClientID: "id"},
		}

		r := NewProviders(cfg, server, DefaultEndpoints())
		assert.Equal(t, []string{KeyTwitter}, r.Keys())

		_, ok := r.Get(KeyTikTok)
		assert.False(t, ok, "a provider without a secret stays disabled")
	})

	t.Run("all providers", func(t *testing.T) {
		r := NewProviders(testProvidersConfig(), server, DefaultEndpoints())

		assert.Equal(t, []string{KeyAmazon, KeyFacebook, KeyInstagram, KeyTikTok, KeyTwitter, KeyTwitterMedia}, r.Keys())
		assert.Equal(t, []models.Platform{
			models.PlatformAmazon, models.PlatformFacebook, models.PlatformInstagram,
			models.PlatformTikTok, models.PlatformTwitter,
		}, r.Platforms())
	})

	t.Run("callback urls derive from the base url", func(t *testing.T) {
		r := NewProviders(testProvidersConfig(), server, DefaultEndpoints())

		tw, _ := r.Get(KeyTwitter)
		assert.Equal(t, "https://api.example.com/api/v1/connect/twitter/callback", tw.OAuth2.RedirectURL)

		media, _ := r.Get(KeyTwitterMedia)
		assert.Equal(t, "https://api.example.com/api/v1/connect/twitter-media/callback", media.OAuth1.CallbackURL)
	})

	t.Run("configured scopes override defaults", func(t *testing.T) {
		cfg := testProvidersConfig()
		cfg.Facebook.Scopes = []string{"public_profile"}

		r := NewProviders(cfg, server, DefaultEndpoints())
		fb, _ := r.Get(KeyFacebook)
		assert.Equal(t, []string{"public_profile"}, fb.Scopes())
	})
}

func TestRegistryPrimary(t *testing.T) {
	r := NewProviders(testProvidersConfig(), config.ServerConfig{}, DefaultEndpoints())

	p, ok := r.Primary(models.PlatformTwitter)
	require.True(t, ok)
	assert.Equal(t, KeyTwitter, p.Key, "the augmenting provider never owns the platform")

	_, ok = r.Primary(models.PlatformLinkedIn)
	assert.False(t, ok)
}

func TestProviderProtocols(t *testing.T) {
	r := NewProviders(testProvidersConfig(), config.ServerConfig{}, DefaultEndpoints())

	tests := []struct {
		key    string
		pkce   bool
		oauth1 bool
		signIn bool
	}{
		{KeyFacebook, false, false, true},
		{KeyInstagram, false, false, false},
		{KeyTwitter, true, false, true},
		{KeyTwitterMedia, false, true, false},
		{KeyTikTok, true, false, false},
		{KeyAmazon, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			p, ok := r.Get(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.pkce, p.PKCE())
			assert.Equal(t, tt.oauth1, p.OAuth1a())
			assert.Equal(t, tt.signIn, p.SignIn)
			assert.NotNil(t, p.Profile)
		})
	}
}

func TestCapabilities(t *testing.T) {
	r := NewProviders(testProvidersConfig(), config.ServerConfig{}, DefaultEndpoints())

	tests := []struct {
		name   string
		key    string
		scopes []string
		want   models.Capabilities
	}{
		{"facebook publish", KeyFacebook, []string{"pages_manage_posts"}, models.Capabilities{CanPublishContent: true}},
		{"facebook ads", KeyFacebook, []string{"ads_management", "read_insights"}, models.Capabilities{CanAccessInsights: true, CanManageAds: true}},
		{"twitter read only", KeyTwitter, []string{"tweet.read", "users.read"}, models.Capabilities{CanAccessInsights: true}},
		{"tiktok publish", KeyTikTok, []string{"video.upload"}, models.Capabilities{CanPublishContent: true}},
		{"amazon profile", KeyAmazon, []string{"profile"}, models.Capabilities{}},
		{"media upload always publishes", KeyTwitterMedia, nil, models.Capabilities{CanPublishContent: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := r.Get(tt.key)
			assert.Equal(t, tt.want, p.capabilities(tt.scopes))
		})
	}
}

func TestScopeSet(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, scopeSet("a b,c"))
	assert.Equal(t, []string{"user.info.basic", "video.list"}, scopeSet("user.info.basic,,video.list"))
	assert.Empty(t, scopeSet(""))
}

func TestTikTokRequestedScopes(t *testing.T) {
	p := NewTikTok(config.ProviderCredentials{ClientID: "k", ClientSecret: "s"}, "cb", DefaultEndpoints())

	assert.Equal(t, tiktokScopes, p.Scopes())
	assert.Empty(t, p.OAuth2.Scopes, "scopes are sent comma separated through AuthParams")
}
