// Package cache keeps JSON copies of Provider Persistence reads in Redis.
//
// Cache is the raw key/value layer. Store decorates a Backend so user and
// connection list reads are served from Redis and every write invalidates
// the owner's cached entries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// scanBatch is the SCAN COUNT hint used by DeletePattern.
const scanBatch = 100

// Cache stores JSON encoded values under string keys.
type Cache struct {
	client *redis.Client
}

// NewCache wraps a Redis client. The pool settings of client apply.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get decodes the value under key into target. A missing key returns
// ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, target any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		// A value written by an older layout is as good as absent.
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		return ErrCacheMiss
	}
	return nil
}

// Delete removes keys in a single DEL.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching a glob pattern. It walks the
// keyspace with SCAN, so it never blocks Redis the way KEYS would.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("cache scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache delete %s: %w", pattern, err)
			}
			deleted += len(keys)
		}
		if cursor = next; cursor == 0 {
			break
		}
	}
	log.Ctx(ctx).Debug().Str("pattern", pattern).Int("count", deleted).Msg("Deleted cache keys")
	return nil
}

// readThrough returns the cached T under key, or calls load and caches its
// result for ttl. Errors from load are returned untouched and a Redis
// failure degrades to calling load.
//
// A freshly loaded value goes through the same JSON round trip as a cached
// one, so callers see identical shapes on hit and miss.
func readThrough[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	err := c.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Cache unavailable, reading through")
		return load(ctx)
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value, fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Failed to cache loaded value")
	}

	var shaped T
	if err := json.Unmarshal(data, &shaped); err != nil {
		return value, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return shaped, nil
}
