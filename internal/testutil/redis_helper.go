package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ieraasyl/ConnectService/internal/database"
	"github.com/redis/go-redis/v9"
)

// SetupMiniRedis creates a miniredis instance for testing
// Returns the miniredis server and a cleanup function
func SetupMiniRedis(t *testing.T) (*miniredis.Miniredis, func()) {
	t.Helper()

	mr := miniredis.RunT(t)

	cleanup := func() {
		mr.Close()
	}

	return mr, cleanup
}

// NewTestRedisDB creates a RedisDB connected to miniredis for testing
func NewTestRedisDB(t *testing.T, mr *miniredis.Miniredis) *database.RedisDB {
	t.Helper()

	return database.NewRedisDBFromClient(NewTestRedisClient(t, mr))
}

// NewTestRedisClient creates a Redis client connected to miniredis
func NewTestRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
		DB:   0,
	})
	t.Cleanup(func() { _ = client.Close() })

	return client
}
