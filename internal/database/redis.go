package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ieraasyl/ConnectService/pkg/config"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrRefreshTokenNotFound is returned for unknown or expired refresh tokens.
var ErrRefreshTokenNotFound = errors.New("refresh token not found or expired")

// RedisDB wraps a Redis client for the application token store.
// Provides type-safe methods for:
//   - Refresh token storage, validation and rotation
//   - Token blacklisting for revocation
//
// The same client backs the shared platform rate limiter and the
// connection cache; see Client.
type RedisDB struct {
	client *redis.Client
}

// NewRedisDB creates a new Redis connection with automatic retry.
// Implements exponential backoff retry logic similar to PostgreSQL connection.
//
// Retry configuration:
//   - Max attempts: 5
//   - Initial delay: 100ms
//   - Max delay: 3 seconds
//   - Total timeout: 30 seconds
//
// Example:
//
//	redisDB, err := database.NewRedisDB(ctx, &cfg.Redis)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Redis connection failed")
//	}
//	defer redisDB.Close()
func NewRedisDB(ctx context.Context, cfg *config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	retryConfig := utils.DatabaseRetryConfig()
	retryConfig.MaxAttempts = 5
	retryConfig.InitialDelay = 100 * time.Millisecond
	retryConfig.MaxDelay = 3 * time.Second

	err := utils.Retry(ctx, retryConfig, func(ctx context.Context) error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to ping Redis, retrying...")
			return err
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis after retries: %w", err)
	}

	log.Info().Msg("Successfully connected to Redis")

	return &RedisDB{client: client}, nil
}

// NewRedisDBFromClient wraps an existing client.
func NewRedisDBFromClient(client *redis.Client) *RedisDB {
	return &RedisDB{client: client}
}

// Close closes the Redis connection and releases all resources.
func (r *RedisDB) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client. The platform rate limiter
// and the connection cache share it.
func (r *RedisDB) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is alive and responsive.
// Used by the readiness endpoint.
func (r *RedisDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func refreshKey(userID, tokenID string) string {
	return fmt.Sprintf("refresh_token:%s:%s", userID, tokenID)
}

// SetRefreshToken records a live refresh token for a user.
//
// Key pattern: "refresh_token:{userID}:{tokenID}"
//
// The entry expires with the token so the store never outgrows the set
// of usable tokens.
func (r *RedisDB) SetRefreshToken(ctx context.Context, userID, tokenID string, expiry time.Duration) error {
	err := r.client.Set(ctx, refreshKey(userID, tokenID), time.Now().Unix(), expiry).Err()
	if err != nil {
		return fmt.Errorf("failed to set refresh token: %w", err)
	}
	return nil
}

// CheckRefreshToken returns ErrRefreshTokenNotFound unless the token is
// still recorded for the user.
func (r *RedisDB) CheckRefreshToken(ctx context.Context, userID, tokenID string) error {
	n, err := r.client.Exists(ctx, refreshKey(userID, tokenID)).Result()
	if err != nil {
		return fmt.Errorf("failed to get refresh token: %w", err)
	}
	if n == 0 {
		return ErrRefreshTokenNotFound
	}
	return nil
}

// ConsumeRefreshToken deletes the token and fails if it was not present,
// so a refresh token can be rotated exactly once.
func (r *RedisDB) ConsumeRefreshToken(ctx context.Context, userID, tokenID string) error {
	n, err := r.client.Del(ctx, refreshKey(userID, tokenID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	if n == 0 {
		return ErrRefreshTokenNotFound
	}
	return nil
}

// DeleteUserRefreshTokens removes every refresh token of a user using SCAN
// and returns how many were removed.
//
// SCAN is production-safe:
//   - Non-blocking (doesn't lock Redis)
//   - Cursor-based iteration
func (r *RedisDB) DeleteUserRefreshTokens(ctx context.Context, userID string) (int, error) {
	pattern := refreshKey(userID, "*")

	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan refresh tokens: %w", err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete refresh tokens: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// BlacklistToken adds an access token ID to the blacklist until it would
// have expired anyway.
//
// Key pattern: "blacklist:{jti}"
func (r *RedisDB) BlacklistToken(ctx context.Context, jti string, expiry time.Duration) error {
	if expiry <= 0 {
		return nil
	}
	key := fmt.Sprintf("blacklist:%s", jti)
	if err := r.client.Set(ctx, key, "true", expiry).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsTokenBlacklisted checks if a token has been revoked.
func (r *RedisDB) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	key := fmt.Sprintf("blacklist:%s", jti)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists > 0, nil
}
