package delivery

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catchup/internal/config"
	"catchup/internal/models"
	"catchup/internal/redis"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()

	_, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	queued := models.DeliveryStatus{ID: id, StudentID: "42", Topic: "Fractions", State: models.DeliveryQueued, UpdatedAt: time.Now().UTC()}
	require.NoError(t, store.Put(ctx, queued))
	failed := queued
	failed.State = models.DeliveryFailed
	failed.Error = "forbidden"
	require.NoError(t, store.Put(ctx, failed))

	got, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.DeliveryFailed, got.State)
	assert.Equal(t, "forbidden", got.Error)
	assert.Equal(t, "Fractions", got.Topic)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Minute))
}

func TestMemoryStoreExpires(t *testing.T) {
	store := NewMemoryStore(20 * time.Millisecond)
	require.NoError(t, store.Put(context.Background(), models.DeliveryStatus{ID: "x", State: models.DeliveryQueued}))
	time.Sleep(50 * time.Millisecond)
	_, ok, err := store.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed delivery tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	require.NoError(t, err)
	defer client.Close()

	exerciseStore(t, NewRedisStore(client, time.Minute))
}
