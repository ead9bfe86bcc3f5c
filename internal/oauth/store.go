package oauth

import (
	"context"

	"github.com/google/uuid"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/session"
)

// ConnectionStore is Provider Persistence: users and their provider
// connection rows. Lookups return models.ErrNotFound for missing rows.
type ConnectionStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	// FindUserByProvider returns the user owning a connection to the given
	// provider account. If several do, the earliest linked one wins.
	FindUserByProvider(ctx context.Context, provider models.Platform, providerID string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	TouchLogin(ctx context.Context, id uuid.UUID) error

	GetConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	// GetActiveConnection returns the most recently updated active row for
	// the user and provider.
	GetActiveConnection(ctx context.Context, userID uuid.UUID, provider models.Platform) (*models.Connection, error)
	// ActiveConnections returns every active row for the user and
	// provider, one per connected provider account, with tokens.
	ActiveConnections(ctx context.Context, userID uuid.UUID, provider models.Platform) ([]*models.Connection, error)
	ListConnections(ctx context.Context, userID uuid.UUID) ([]*models.Connection, error)
	// UpsertConnection inserts or updates the row keyed by
	// (UserID, Provider, ProviderID) and returns the stored row.
	UpsertConnection(ctx context.Context, conn *models.Connection) (*models.Connection, error)
	// PatchConnectionSecret sets only the OAuth1.0a token pair on an
	// existing row. Every other column keeps its value.
	PatchConnectionSecret(ctx context.Context, id uuid.UUID, token, secret string) (*models.Connection, error)
	UpdateConnectionTokens(ctx context.Context, id uuid.UUID, creds models.TokenUpdate) (*models.Connection, error)
	DeleteConnection(ctx context.Context, id uuid.UUID) error
}

// TokenIssuer mints the application's own login tokens for a user.
type TokenIssuer interface {
	IssueTokens(ctx context.Context, user *models.User) (*session.UserTokens, error)
}
