// Package config provides application configuration management with environment
// variable loading, validation, and sensible defaults. It supports .env files
// for local development and validates all required settings on startup to
// prevent runtime configuration errors.
//
// Values are read with go-envconfig from struct tags; every section has a
// prefix so that, for example, Redis.Host is read from REDIS_HOST.
//
// Example usage:
//
//	cfg, err := config.Load(ctx)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Failed to load configuration")
//	}
//
//	server := &http.Server{
//	    Addr: ":" + cfg.Server.Port,
//	}
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `env:", prefix=SERVER_"`
	Database  DatabaseConfig  `env:", prefix=POSTGRES_"`
	Redis     RedisConfig     `env:", prefix=REDIS_"`
	Session   SessionConfig   `env:", prefix=SESSION_"`
	JWT       JWTConfig       `env:", prefix=JWT_"`
	Providers ProvidersConfig `env:", prefix=OAUTH_"`
	CORS      CORSConfig      `env:", prefix=CORS_"`
	RateLimit RateLimitConfig `env:", prefix=RATE_LIMIT_"`
	Cache     CacheConfig     `env:", prefix=CACHE_"`
	Telemetry TelemetryConfig `env:", prefix=OTEL_"`
}

// ServerConfig holds server-specific configuration including port,
// environment, and external URLs.
type ServerConfig struct {
	Port        string `env:"PORT, default=8080"`
	Environment string `env:"ENV, default=development"`
	LogLevel    string `env:"LOG_LEVEL, default=info"`
	// BaseURL is the public origin of this API. OAuth callback URLs are
	// derived from it: {BaseURL}/api/v1/connect/{provider}/callback.
	BaseURL string `env:"BASE_URL, default=http://localhost:8080"`
	// FrontendURL is the UI origin that callback redirects land on.
	FrontendURL string `env:"FRONTEND_URL, default=http://localhost:3000"`
	// LoginPath is surfaced as the loginUrl hint on 401 responses.
	LoginPath string `env:"LOGIN_PATH, default=/login"`
}

// DatabaseConfig holds PostgreSQL database configuration including
// connection parameters and pool settings.
type DatabaseConfig struct {
	Host     string `env:"HOST, default=localhost"`
	Port     string `env:"PORT, default=5432"`
	Database string `env:"DB, default=connect_service"`
	User     string `env:"USER, default=postgres"`
	Password string `env:"PASSWORD, required"`
	SSLMode  string `env:"SSLMODE, default=disable"`
	MaxConns int    `env:"MAX_CONNS, default=25"`
}

// RedisConfig holds Redis configuration including connection parameters,
// authentication, database selection, and pool size.
type RedisConfig struct {
	Host     string `env:"HOST, default=localhost"`
	Port     string `env:"PORT, default=6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB, default=0"`
	PoolSize int    `env:"POOL_SIZE, default=10"`
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	Secret     string        `env:"SECRET, required"`
	CookieName string        `env:"COOKIE_NAME, default=session"`
	TTL        time.Duration `env:"TTL, default=168h"`
	// RememberTTL replaces TTL when the user asked to stay signed in. The
	// cookie then carries a Max-Age; otherwise it lives for the browser session.
	RememberTTL time.Duration `env:"REMEMBER_TTL, default=720h"`
	// TransactionTTL bounds how long a pending OAuth transaction stays valid.
	TransactionTTL time.Duration `env:"TRANSACTION_TTL, default=10m"`
}

// JWTConfig holds configuration for the application's own access and
// refresh tokens (the session's userTokens).
type JWTConfig struct {
	Secret        string        `env:"SECRET, required"`
	AccessExpiry  time.Duration `env:"ACCESS_EXPIRY, default=15m"`
	RefreshExpiry time.Duration `env:"REFRESH_EXPIRY, default=168h"`
}

// ProviderCredentials is a client id/secret pair for one OAuth2 provider.
type ProviderCredentials struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES"`
}

// Enabled reports whether the provider has credentials configured.
func (p ProviderCredentials) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// OAuth1Credentials is a consumer key/secret pair for an OAuth1.0a provider.
type OAuth1Credentials struct {
	ConsumerKey    string `env:"CONSUMER_KEY"`
	ConsumerSecret string `env:"CONSUMER_SECRET"`
}

// Enabled reports whether the consumer pair is configured.
func (p OAuth1Credentials) Enabled() bool {
	return p.ConsumerKey != "" && p.ConsumerSecret != ""
}

// ProvidersConfig holds per-platform OAuth credentials. A provider without
// credentials is not registered and its endpoints answer 404.
type ProvidersConfig struct {
	Facebook     ProviderCredentials `env:", prefix=FACEBOOK_"`
	Instagram    ProviderCredentials `env:", prefix=INSTAGRAM_"`
	Twitter      ProviderCredentials `env:", prefix=TWITTER_"`
	TwitterMedia OAuth1Credentials   `env:", prefix=TWITTER_"`
	TikTok       ProviderCredentials `env:", prefix=TIKTOK_"`
	Amazon       ProviderCredentials `env:", prefix=AMAZON_"`
	// HTTPTimeout bounds every outbound call to a provider.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT, default=15s"`
}

// CORSConfig holds Cross-Origin Resource Sharing (CORS) configuration
// to control which origins can access the API.
type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=http://localhost:3000"`
}

// RateLimitConfig selects the platform limiter backend and the coarse
// per-IP limit applied to connect and sign-in endpoints.
type RateLimitConfig struct {
	// Backend is "memory" (single instance) or "redis" (shared counters).
	Backend          string        `env:"BACKEND, default=memory"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL, default=10m"`
	IPRequestsPerMin int           `env:"IP_REQUESTS_PER_MIN, default=60"`
}

// CacheConfig holds cache configuration for Provider Persistence reads.
type CacheConfig struct {
	ConnectionTTL time.Duration `env:"CONNECTION_TTL, default=5m"`
	Enabled       bool          `env:"ENABLED, default=true"`
}

// TelemetryConfig configures OpenTelemetry tracing. An empty endpoint
// disables export.
type TelemetryConfig struct {
	ServiceName string `env:"SERVICE_NAME, default=connect-service"`
	Endpoint    string `env:"EXPORTER_OTLP_ENDPOINT"`
}

// Load reads and validates configuration from environment variables.
// It attempts to load a .env file if present (for local development) but
// doesn't fail if the file is missing (for production deployments).
//
// Required environment variables:
//   - POSTGRES_PASSWORD: Database password
//   - SESSION_SECRET: Session signing key (minimum 32 bytes)
//   - JWT_SECRET: Application token signing key (minimum 32 bytes)
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that configuration values are valid and consistent.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	if len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.Session.TTL <= 0 || c.Session.RememberTTL <= 0 {
		errs = append(errs, errors.New("session TTLs must be positive"))
	}
	if c.Session.TransactionTTL <= 0 || c.Session.TransactionTTL > c.Session.TTL {
		errs = append(errs, errors.New("SESSION_TRANSACTION_TTL must be positive and not exceed SESSION_TTL"))
	}

	for name, raw := range map[string]string{
		"SERVER_BASE_URL":     c.Server.BaseURL,
		"SERVER_FRONTEND_URL": c.Server.FrontendURL,
	} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s is not a valid URL: %w", name, err))
		}
	}

	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimit.Backend))
	}

	if c.Providers.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("OAUTH_HTTP_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether secure cookie settings should be used.
func (c *ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// CallbackURL returns the OAuth redirect URI registered for provider.
func (c *ServerConfig) CallbackURL(provider string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/v1/connect/" + provider + "/callback"
}

// DSN returns the PostgreSQL connection string in lib/pq key=value format.
//
// Example:
//
//	db, err := sql.Open("postgres", cfg.Database.DSN())
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Address returns the Redis server address in host:port format.
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
