package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ieraasyl/ConnectService/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestHealth(t *testing.T) {
	t.Run("returns 200 OK with correct structure", func(t *testing.T) {
		handler := NewHealthHandler(nil, nil)

		rec := httptest.NewRecorder()
		handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var response HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.Equal(t, "ok", response.Status)
		assert.False(t, response.Timestamp.IsZero())
		assert.Nil(t, response.Services, "liveness does not check dependencies")
	})
}

func TestReady(t *testing.T) {
	t.Run("all dependencies healthy", func(t *testing.T) {
		mr, cleanup := testutil.SetupMiniRedis(t)
		t.Cleanup(cleanup)

		pg := new(mockPinger)
		pg.On("Ping", mock.Anything).Return(nil).Once()

		handler := NewHealthHandler(pg, testutil.NewTestRedisDB(t, mr))
		rec := httptest.NewRecorder()
		handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var response HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.Equal(t, "ok", response.Status)
		assert.Equal(t, map[string]string{"postgres": "healthy", "redis": "healthy"}, response.Services)
		pg.AssertExpectations(t)
	})

	t.Run("a failing dependency degrades readiness", func(t *testing.T) {
		pg := new(mockPinger)
		pg.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		redis := new(mockPinger)
		redis.On("Ping", mock.Anything).Return(nil)

		handler := NewHealthHandler(pg, redis)
		rec := httptest.NewRecorder()
		handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var response HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.Equal(t, "degraded", response.Status)
		assert.Equal(t, "unhealthy", response.Services["postgres"])
		assert.Equal(t, "healthy", response.Services["redis"])
	})

	t.Run("redis outage", func(t *testing.T) {
		mr, cleanup := testutil.SetupMiniRedis(t)
		t.Cleanup(cleanup)
		redisDB := testutil.NewTestRedisDB(t, mr)
		mr.SetError("LOADING Redis is loading the dataset in memory")

		pg := new(mockPinger)
		pg.On("Ping", mock.Anything).Return(nil)

		rec := httptest.NewRecorder()
		NewHealthHandler(pg, redisDB).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"redis":"unhealthy"`)
	})
}
