package oauth

import (
	"strings"

	"github.com/dghubble/oauth1"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/pkg/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/amazon"
)

// Provider route keys.
const (
	KeyFacebook     = "facebook"
	KeyInstagram    = "instagram"
	KeyTwitter      = "twitter"
	KeyTwitterMedia = "twitter-media"
	KeyTikTok       = "tiktok"
	KeyAmazon       = "amazon"
)

// Endpoints are the provider URLs. Tests point them at httptest servers.
type Endpoints struct {
	FacebookAuthURL  string
	FacebookTokenURL string
	FacebookAPI      string

	InstagramAuthURL  string
	InstagramTokenURL string
	InstagramAPI      string

	TwitterAuthURL         string
	TwitterTokenURL        string
	TwitterRevokeURL       string
	TwitterAPI             string
	TwitterRequestTokenURL string
	TwitterAuthorizeURL    string
	TwitterAccessTokenURL  string

	TikTokAuthURL   string
	TikTokTokenURL  string
	TikTokRevokeURL string
	TikTokAPI       string

	AmazonAuthURL  string
	AmazonTokenURL string
	AmazonAPI      string
}

// DefaultEndpoints returns the production provider URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		FacebookAuthURL:  "https://www.facebook.com/v19.0/dialog/oauth",
		FacebookTokenURL: "https://graph.facebook.com/v19.0/oauth/access_token",
		FacebookAPI:      "https://graph.facebook.com/v19.0",

		InstagramAuthURL:  "https://api.instagram.com/oauth/authorize",
		InstagramTokenURL: "https://api.instagram.com/oauth/access_token",
		InstagramAPI:      "https://graph.instagram.com",

		TwitterAuthURL:         "https://twitter.com/i/oauth2/authorize",
		TwitterTokenURL:        "https://api.twitter.com/2/oauth2/token",
		TwitterRevokeURL:       "https://api.twitter.com/2/oauth2/revoke",
		TwitterAPI:             "https://api.twitter.com",
		TwitterRequestTokenURL: "https://api.twitter.com/oauth/request_token",
		TwitterAuthorizeURL:    "https://api.twitter.com/oauth/authorize",
		TwitterAccessTokenURL:  "https://api.twitter.com/oauth/access_token",

		TikTokAuthURL:   "https://www.tiktok.com/v2/auth/authorize/",
		TikTokTokenURL:  "https://open.tiktokapis.com/v2/oauth/token/",
		TikTokRevokeURL: "https://open.tiktokapis.com/v2/oauth/revoke/",
		TikTokAPI:       "https://open.tiktokapis.com",

		AmazonAuthURL:  amazon.Endpoint.AuthURL,
		AmazonTokenURL: amazon.Endpoint.TokenURL,
		AmazonAPI:      "https://api.amazon.com",
	}
}

// Default scopes requested when none are configured.
var (
	facebookScopes  = []string{"public_profile", "email", "pages_show_list", "pages_manage_posts", "pages_read_engagement", "read_insights"}
	instagramScopes = []string{"instagram_basic", "instagram_content_publish", "instagram_manage_insights"}
	twitterScopes   = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}
	tiktokScopes    = []string{"user.info.basic", "user.info.stats", "video.list", "video.publish"}
	amazonScopes    = []string{"profile"}
)

func scopesOr(configured, def []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return def
}

// NewProviders registers every provider with credentials configured.
//
// Example:
//
//	registry := oauth.NewProviders(cfg.Providers, cfg.Server, oauth.DefaultEndpoints())
//	p, ok := registry.Get("twitter")
func NewProviders(cfg config.ProvidersConfig, server config.ServerConfig, ep Endpoints) *Registry {
	r := NewRegistry()
	if cfg.Facebook.Enabled() {
		r.Register(NewFacebook(cfg.Facebook, server.CallbackURL(KeyFacebook), ep))
	}
	if cfg.Instagram.Enabled() {
		r.Register(NewInstagram(cfg.Instagram, server.CallbackURL(KeyInstagram), ep))
	}
	if cfg.Twitter.Enabled() {
		r.Register(NewTwitter(cfg.Twitter, server.CallbackURL(KeyTwitter), ep))
	}
	if cfg.TwitterMedia.Enabled() {
		r.Register(NewTwitterMedia(cfg.TwitterMedia, server.CallbackURL(KeyTwitterMedia), ep))
	}
	if cfg.TikTok.Enabled() {
		r.Register(NewTikTok(cfg.TikTok, server.CallbackURL(KeyTikTok), ep))
	}
	if cfg.Amazon.Enabled() {
		r.Register(NewAmazon(cfg.Amazon, server.CallbackURL(KeyAmazon), ep))
	}
	return r
}

// NewFacebook returns the Facebook Login provider. Short-lived tokens are
// upgraded to long-lived ones after the exchange.
func NewFacebook(creds config.ProviderCredentials, callbackURL string, ep Endpoints) *Provider {
	return &Provider{
		Key:      KeyFacebook,
		Platform: models.PlatformFacebook,
		Protocol: ProtocolOAuth2,
		OAuth2: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  callbackURL,
			Scopes:       scopesOr(creds.Scopes, facebookScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.FacebookAuthURL,
				TokenURL:  ep.FacebookTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		Profile: GraphProfile{BaseURL: ep.FacebookAPI},
		Revoker: GraphRevoker{BaseURL: ep.FacebookAPI},
		Upgrade: GraphTokenUpgrader{
			BaseURL:      ep.FacebookAPI,
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
		},
		Capabilities: func(s []string) models.Capabilities {
			return models.Capabilities{
				CanPublishContent: hasAny(s, "pages_manage_posts", "publish_video"),
				CanAccessInsights: hasAny(s, "read_insights", "pages_read_engagement"),
				CanManageAds:      hasAny(s, "ads_management"),
			}
		},
		SignIn: true,
	}
}

// NewInstagram returns the Instagram provider. Instagram has no revocation
// endpoint.
func NewInstagram(creds config.ProviderCredentials, callbackURL string, ep Endpoints) *Provider {
	return &Provider{
		Key:      KeyInstagram,
		Platform: models.PlatformInstagram,
		Protocol: ProtocolOAuth2,
		OAuth2: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  callbackURL,
			Scopes:       scopesOr(creds.Scopes, instagramScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.InstagramAuthURL,
				TokenURL:  ep.InstagramTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		Profile: InstagramProfile{BaseURL: ep.InstagramAPI},
		Capabilities: func(s []string) models.Capabilities {
			return models.Capabilities{
				CanPublishContent: hasAny(s, "instagram_content_publish"),
				CanAccessInsights: hasAny(s, "instagram_manage_insights"),
			}
		},
	}
}

// NewTwitter returns the Twitter OAuth2 provider. Twitter requires PKCE and
// basic auth client credentials at the token endpoint.
func NewTwitter(creds config.ProviderCredentials, callbackURL string, ep Endpoints) *Provider {
	return &Provider{
		Key:      KeyTwitter,
		Platform: models.PlatformTwitter,
		Protocol: ProtocolOAuth2PKCE,
		OAuth2: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  callbackURL,
			Scopes:       scopesOr(creds.Scopes, twitterScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.TwitterAuthURL,
				TokenURL:  ep.TwitterTokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		Profile: TwitterProfile{BaseURL: ep.TwitterAPI},
		Revoker: FormRevoker{
			URL:          ep.TwitterRevokeURL,
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
		},
		Capabilities: func(s []string) models.Capabilities {
			return models.Capabilities{
				CanPublishContent: hasAny(s, "tweet.write"),
				CanAccessInsights: hasAny(s, "tweet.read"),
			}
		},
		SignIn: true,
	}
}

// NewTwitterMedia returns the OAuth1.0a provider used for media upload.
// When an active Twitter connection exists it only attaches the OAuth1.0a
// credentials to that row.
func NewTwitterMedia(creds config.OAuth1Credentials, callbackURL string, ep Endpoints) *Provider {
	return &Provider{
		Key:      KeyTwitterMedia,
		Platform: models.PlatformTwitter,
		Protocol: ProtocolOAuth1,
		OAuth1: &oauth1.Config{
			ConsumerKey:    creds.ConsumerKey,
			ConsumerSecret: creds.ConsumerSecret,
			CallbackURL:    callbackURL,
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: ep.TwitterRequestTokenURL,
				AuthorizeURL:    ep.TwitterAuthorizeURL,
				AccessTokenURL:  ep.TwitterAccessTokenURL,
			},
		},
		Profile:  TwitterLegacyProfile{BaseURL: ep.TwitterAPI},
		Augments: KeyTwitter,
		Capabilities: func([]string) models.Capabilities {
			return models.Capabilities{CanPublishContent: true}
		},
	}
}

// NewTikTok returns the TikTok Login Kit provider. TikTok names the client
// id client_key and separates scopes with commas.
func NewTikTok(creds config.ProviderCredentials, callbackURL string, ep Endpoints) *Provider {
	scopes := scopesOr(creds.Scopes, tiktokScopes)
	return &Provider{
		Key:      KeyTikTok,
		Platform: models.PlatformTikTok,
		Protocol: ProtocolOAuth2PKCE,
		OAuth2: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  callbackURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.TikTokAuthURL,
				TokenURL:  ep.TikTokTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		AuthParams: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("client_key", creds.ClientID),
			oauth2.SetAuthURLParam("scope", strings.Join(scopes, ",")),
		},
		RequestedScopes: scopes,
		ExchangeParams: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("client_key", creds.ClientID),
		},
		Profile: TikTokProfile{BaseURL: ep.TikTokAPI},
		Revoker: FormRevoker{
			URL:           ep.TikTokRevokeURL,
			ClientID:      creds.ClientID,
			ClientSecret:  creds.ClientSecret,
			ClientIDParam: "client_key",
		},
		Capabilities: func(s []string) models.Capabilities {
			return models.Capabilities{
				CanPublishContent: hasAny(s, "video.publish", "video.upload"),
				CanAccessInsights: hasAny(s, "user.info.stats", "video.list"),
			}
		},
	}
}

// NewAmazon returns the Login with Amazon provider. Amazon has no public
// revocation endpoint.
func NewAmazon(creds config.ProviderCredentials, callbackURL string, ep Endpoints) *Provider {
	return &Provider{
		Key:      KeyAmazon,
		Platform: models.PlatformAmazon,
		Protocol: ProtocolOAuth2,
		OAuth2: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  callbackURL,
			Scopes:       scopesOr(creds.Scopes, amazonScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.AmazonAuthURL,
				TokenURL:  ep.AmazonTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		Profile: AmazonProfile{BaseURL: ep.AmazonAPI},
		Capabilities: func(s []string) models.Capabilities {
			ads := hasAny(s, "advertising::campaign_management")
			return models.Capabilities{CanAccessInsights: ads, CanManageAds: ads}
		},
		SignIn: true,
	}
}
