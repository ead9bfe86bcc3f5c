// Package services provides application services that sit beside the
// OAuth flows. TokenService issues and rotates the application's own login
// tokens, the userTokens carried in the session.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/pkg/config"
	"github.com/rs/zerolog/log"
)

const tokenIssuer = "connect-service"

// Token types carried in the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
	ErrWrongType    = errors.New("wrong token type")
)

// TokenStore defines the Redis operations needed by TokenService.
// This interface abstracts refresh token storage and token blacklisting,
// enabling testing and dependency injection.
type TokenStore interface {
	SetRefreshToken(ctx context.Context, userID, tokenID string, expiry time.Duration) error
	CheckRefreshToken(ctx context.Context, userID, tokenID string) error
	ConsumeRefreshToken(ctx context.Context, userID, tokenID string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) (int, error)
	BlacklistToken(ctx context.Context, jti string, expiry time.Duration) error
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
}

// TokenService handles application token generation, validation, and
// lifecycle management. It provides:
//   - Token pair issuance (access + refresh tokens) after sign-in
//   - Access token validation with blacklist checking
//   - Refresh token rotation, each refresh token usable once
//   - Revocation on logout
//
// Tokens use HS256 signing. Refresh tokens are recorded in Redis and
// revoked access tokens are blacklisted for their remaining lifetime.
type TokenService struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	store         TokenStore
	now           func() time.Time
}

// Claims represents the custom JWT claims embedded in tokens.
type Claims struct {
	UserID string      `json:"user_id"`
	Email  string      `json:"email"`
	Plan   models.Plan `json:"plan,omitempty"`
	Type   string      `json:"typ"`
	jwt.RegisteredClaims
}

// NewTokenService creates a token service with the provided configuration.
//
// Example:
//
//	tokens := services.NewTokenService(&cfg.JWT, redisDB)
//	userTokens, err := tokens.IssueTokens(ctx, user)
func NewTokenService(cfg *config.JWTConfig, store TokenStore) *TokenService {
	return &TokenService{
		secret:        []byte(cfg.Secret),
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		store:         store,
		now:           time.Now,
	}
}

// WithClock replaces the service clock. Intended for tests.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// IssueTokens creates access and refresh tokens for a user and records
// the refresh token so it can later be rotated or revoked.
func (s *TokenService) IssueTokens(ctx context.Context, user *models.User) (*session.UserTokens, error) {
	now := s.now()

	access, expiresAt, err := s.sign(user, TokenTypeAccess, uuid.NewString(), now, s.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshID := uuid.NewString()
	refresh, _, err := s.sign(user, TokenTypeRefresh, refreshID, now, s.refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	if err := s.store.SetRefreshToken(ctx, user.ID.String(), refreshID, s.refreshExpiry); err != nil {
		log.Error().Err(err).Msg("Failed to store refresh token in Redis")
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	log.Debug().
		Str("user_id", user.ID.String()).
		Str("refresh_jti", refreshID).
		Msg("Token pair generated")

	return &session.UserTokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *TokenService) sign(user *models.User, typ, jti string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	claims := Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Plan:   user.Plan,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   user.ID.String(),
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *TokenService) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// ValidateAccessToken verifies signature, expiry, type and blacklist.
func (s *TokenService) ValidateAccessToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrWrongType
	}

	blacklisted, err := s.store.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		log.Error().Err(err).Str("jti", claims.ID).Msg("Failed to check token blacklist")
		return nil, fmt.Errorf("failed to verify token status: %w", err)
	}
	if blacklisted {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// is consumed first so it cannot be replayed.
func (s *TokenService) Refresh(ctx context.Context, user *models.User, refreshToken string) (*session.UserTokens, error) {
	claims, err := s.parse(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, ErrWrongType
	}
	if claims.UserID != user.ID.String() {
		return nil, fmt.Errorf("%w: token user mismatch", ErrInvalidToken)
	}

	if err := s.store.ConsumeRefreshToken(ctx, claims.UserID, claims.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	}

	tokens, err := s.IssueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", claims.UserID).
		Msg("Access token refreshed successfully")
	return tokens, nil
}

// Revoke blacklists the access token for its remaining lifetime and drops
// the refresh token. Tokens that no longer parse are ignored.
func (s *TokenService) Revoke(ctx context.Context, tokens *session.UserTokens) error {
	if tokens == nil {
		return nil
	}

	if claims, err := s.parse(tokens.AccessToken); err == nil {
		ttl := claims.ExpiresAt.Time.Sub(s.now())
		if err := s.store.BlacklistToken(ctx, claims.ID, ttl); err != nil {
			return fmt.Errorf("failed to blacklist token: %w", err)
		}
	}

	if claims, err := s.parse(tokens.RefreshToken); err == nil {
		if err := s.store.ConsumeRefreshToken(ctx, claims.UserID, claims.ID); err != nil {
			log.Debug().Err(err).Str("jti", claims.ID).Msg("Refresh token already gone")
		}
	}
	return nil
}

// RevokeAll drops every refresh token of a user.
func (s *TokenService) RevokeAll(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := s.store.DeleteUserRefreshTokens(ctx, userID.String())
	if err != nil {
		return n, err
	}
	log.Info().Str("user_id", userID.String()).Int("revoked", n).Msg("Refresh tokens revoked")
	return n, nil
}
