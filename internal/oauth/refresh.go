package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/platformerr"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

// Refresh errors.
var (
	ErrNotConnected       = errors.New("platform is not connected")
	ErrRefreshUnsupported = errors.New("connection has no way to refresh its token")
)

// InteractivePolicy bounds provider retries on request paths where a user
// is waiting: one retry for server errors and no waiting out rate limits.
func InteractivePolicy(platform models.Platform) platformerr.RetryPolicy {
	p := platformerr.PolicyFor(platform)
	p.MaxAttempts = 2
	p.RetryRateLimited = false
	if p.MaxDelay > 2*time.Second {
		p.MaxDelay = 2 * time.Second
	}
	return p
}

// Refresh renews the platform tokens of the user's active connection,
// using the refresh_token grant or, for Facebook, the long-lived token
// exchange. Failures are classified; a token or permission failure means
// the user must reconnect.
func (c *Controller) Refresh(ctx context.Context, sess *session.Session, platform models.Platform) (*models.Connection, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.refresh", trace.WithAttributes(
		attribute.String("oauth.platform", string(platform)),
	))
	defer span.End()

	if !sess.Authenticated() {
		return nil, &Failure{Reason: ReasonNotAuthenticated, Provider: string(platform)}
	}
	userID, err := uuid.Parse(sess.UserID)
	if err != nil {
		return nil, &Failure{Reason: ReasonNotAuthenticated, Provider: string(platform), Err: err}
	}

	p, ok := c.providers.Primary(platform)
	if !ok {
		return nil, ErrUnknownProvider
	}
	conn, err := c.store.GetActiveConnection(ctx, userID, platform)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	var refresh func(ctx context.Context) (*Credentials, error)
	switch {
	case conn.RefreshToken != "" && p.OAuth2 != nil:
		refresh = func(ctx context.Context) (*Credentials, error) {
			return refreshOAuth2(ctx, p, conn.RefreshToken)
		}
	case p.Upgrade != nil && conn.AccessToken != "":
		refresh = func(ctx context.Context) (*Credentials, error) {
			return p.Upgrade.Upgrade(ctx, c.httpClient, &Credentials{AccessToken: conn.AccessToken, Scopes: conn.Scopes})
		}
	default:
		return nil, ErrRefreshUnsupported
	}

	var creds *Credentials
	err = doPlatform(withProviderClient(ctx, c.httpClient), platform, func(ctx context.Context) error {
		var err error
		creds, err = refresh(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	updated, err := c.store.UpdateConnectionTokens(ctx, conn.ID, models.TokenUpdate{
		AccessToken:    creds.AccessToken,
		RefreshToken:   creds.RefreshToken,
		TokenExpiresAt: expiryPtr(creds.Expiry),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	if snap := sess.Connection(platform); snap != nil {
		snap.AccountTokens = models.AccountTokens{
			AccessToken:  updated.AccessToken,
			RefreshToken: updated.RefreshToken,
			ExpiresAt:    updated.TokenExpiresAt,
		}
	}
	log.Ctx(ctx).Info().
		Str("platform", string(platform)).
		Str("connection_id", updated.ID.String()).
		Msg("Platform token refreshed")
	return updated, nil
}

func doPlatform(ctx context.Context, platform models.Platform, fn func(ctx context.Context) error) error {
	return platformerr.Do(ctx, platform, InteractivePolicy(platform), fn)
}

func expiryPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func marshalAnalytics(summary map[string]any) datatypes.JSON {
	if summary == nil {
		return nil
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
