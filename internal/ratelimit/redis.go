package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrContention is returned when optimistic transactions keep failing.
var ErrContention = errors.New("rate limit key under contention")

const redisMaxTxRetries = 5

// RedisStore keeps counters in a Redis hash per key so every instance sees
// the same windows. Each Take runs Apply inside WATCH/MULTI; a concurrent
// writer aborts the transaction and Take retries.
//
// Key pattern: "ratelimit:platform:{platform}:{userId}:{ip}"
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:platform:"}
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, policy Policy, now time.Time) (Result, error) {
	redisKey := s.prefix + key
	var result Result

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, redisKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		entry := entryFromHash(fields)
		result = Apply(&entry, policy, now)

		ttl := entry.ResetTime.Sub(now)
		if burst := entry.BurstResetTime.Sub(now); burst > ttl {
			ttl = burst
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey, entryToHash(entry))
			pipe.PExpire(ctx, redisKey, max(ttl, time.Millisecond))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Result{}, fmt.Errorf("failed to apply rate limit: %w", err)
	}
	return Result{}, ErrContention
}

func entryFromHash(fields map[string]string) Entry {
	atoi := func(k string) int64 {
		v, _ := strconv.ParseInt(fields[k], 10, 64)
		return v
	}
	var e Entry
	if len(fields) == 0 {
		return e
	}
	e.Count = int(atoi("count"))
	e.ResetTime = time.UnixMilli(atoi("reset_ms"))
	e.BurstCount = int(atoi("burst_count"))
	e.BurstResetTime = time.UnixMilli(atoi("burst_reset_ms"))
	return e
}

func entryToHash(e Entry) map[string]any {
	return map[string]any{
		"count":          e.Count,
		"reset_ms":       e.ResetTime.UnixMilli(),
		"burst_count":    e.BurstCount,
		"burst_reset_ms": e.BurstResetTime.UnixMilli(),
	}
}
