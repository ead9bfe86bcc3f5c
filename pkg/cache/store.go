package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/rs/zerolog/log"
)

// Backend is the Provider Persistence being cached.
type Backend interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByProvider(ctx context.Context, provider models.Platform, providerID string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	TouchLogin(ctx context.Context, id uuid.UUID) error
	GetConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	GetActiveConnection(ctx context.Context, userID uuid.UUID, provider models.Platform) (*models.Connection, error)
	ActiveConnections(ctx context.Context, userID uuid.UUID, provider models.Platform) ([]*models.Connection, error)
	ListConnections(ctx context.Context, userID uuid.UUID) ([]*models.Connection, error)
	UpsertConnection(ctx context.Context, conn *models.Connection) (*models.Connection, error)
	PatchConnectionSecret(ctx context.Context, id uuid.UUID, token, secret string) (*models.Connection, error)
	UpdateConnectionTokens(ctx context.Context, id uuid.UUID, creds models.TokenUpdate) (*models.Connection, error)
	DeleteConnection(ctx context.Context, id uuid.UUID) error
}

// Store caches user and connection list reads in front of a Backend.
// Every write goes to the Backend first and then drops the user's cached
// entries, so a stale read lasts at most until the next write or the TTL.
//
// Token fields are excluded from JSON, so rows returned by ListConnections
// carry no token material. Reads that need tokens (GetConnection,
// GetActiveConnection, ActiveConnections) always hit the Backend.
//
// A Redis failure never fails a read; the Backend answers instead.
type Store struct {
	Backend
	cache *Cache
	ttl   time.Duration
}

// NewStore wraps backend with a read-through cache.
//
// Example:
//
//	store := cache.NewStore(cache.NewCache(redisDB.Client()), pg, cfg.Cache.ConnectionTTL)
func NewStore(c *Cache, backend Backend, ttl time.Duration) *Store {
	return &Store{Backend: backend, cache: c, ttl: ttl}
}

// GetUser reads the user row through the cache.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return readThrough(ctx, s.cache, UserKey(id), s.ttl, func(ctx context.Context) (*models.User, error) {
		return s.Backend.GetUser(ctx, id)
	})
}

// ListConnections reads the user's active connections through the cache.
// An empty list is cached too.
func (s *Store) ListConnections(ctx context.Context, userID uuid.UUID) ([]*models.Connection, error) {
	return readThrough(ctx, s.cache, ConnectionsKey(userID), s.ttl, func(ctx context.Context) ([]*models.Connection, error) {
		rows, err := s.Backend.ListConnections(ctx, userID)
		if err == nil && rows == nil {
			rows = []*models.Connection{}
		}
		return rows, err
	})
}

// TouchLogin updates the last login time and invalidates the cached user.
func (s *Store) TouchLogin(ctx context.Context, id uuid.UUID) error {
	if err := s.Backend.TouchLogin(ctx, id); err != nil {
		return err
	}
	s.drop(ctx, id, UserKey(id))
	return nil
}

func (s *Store) UpsertConnection(ctx context.Context, conn *models.Connection) (*models.Connection, error) {
	stored, err := s.Backend.UpsertConnection(ctx, conn)
	if err != nil {
		return nil, err
	}
	s.drop(ctx, stored.UserID, ConnectionsKey(stored.UserID))
	return stored, nil
}

func (s *Store) PatchConnectionSecret(ctx context.Context, id uuid.UUID, token, secret string) (*models.Connection, error) {
	stored, err := s.Backend.PatchConnectionSecret(ctx, id, token, secret)
	if err != nil {
		return nil, err
	}
	s.drop(ctx, stored.UserID, ConnectionsKey(stored.UserID))
	return stored, nil
}

func (s *Store) UpdateConnectionTokens(ctx context.Context, id uuid.UUID, creds models.TokenUpdate) (*models.Connection, error) {
	stored, err := s.Backend.UpdateConnectionTokens(ctx, id, creds)
	if err != nil {
		return nil, err
	}
	s.drop(ctx, stored.UserID, ConnectionsKey(stored.UserID))
	return stored, nil
}

// DeleteConnection looks the row up first so the owner's list can be
// invalidated.
func (s *Store) DeleteConnection(ctx context.Context, id uuid.UUID) error {
	conn, err := s.Backend.GetConnection(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Backend.DeleteConnection(ctx, id); err != nil {
		return err
	}
	s.drop(ctx, conn.UserID, ConnectionsKey(conn.UserID))
	return nil
}

// Invalidate drops every cached entry of a user.
func (s *Store) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return s.cache.DeletePattern(ctx, UserPattern(userID))
}

func (s *Store) drop(ctx context.Context, userID uuid.UUID, key string) {
	if err := s.cache.Delete(ctx, key); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to invalidate cache")
	}
}
