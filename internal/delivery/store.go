package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"catchup/internal/models"
	"catchup/internal/redis"
)

// DefaultStatusTTL bounds how long a delivery outcome stays readable.
const DefaultStatusTTL = 24 * time.Hour

// Store keeps the last known state of each notification.
type Store interface {
	Put(ctx context.Context, status models.DeliveryStatus) error
	Get(ctx context.Context, id string) (models.DeliveryStatus, bool, error)
}

// MemoryStore is a process-local Store with expiring entries.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &MemoryStore{cache: cache.New(ttl, ttl/2)}
}

func (m *MemoryStore) Put(_ context.Context, status models.DeliveryStatus) error {
	m.cache.Set(status.ID, status, cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.DeliveryStatus, bool, error) {
	if x, found := m.cache.Get(id); found {
		return x.(models.DeliveryStatus), true, nil
	}
	return models.DeliveryStatus{}, false, nil
}

// RedisStore shares delivery statuses through redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func statusKey(id string) string {
	return fmt.Sprintf("delivery:status:%s", id)
}

func (r *RedisStore) Put(ctx context.Context, status models.DeliveryStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal delivery status: %w", err)
	}
	return r.client.Set(ctx, statusKey(status.ID), data, r.ttl)
}

func (r *RedisStore) Get(ctx context.Context, id string) (models.DeliveryStatus, bool, error) {
	raw, err := r.client.Get(ctx, statusKey(id))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return models.DeliveryStatus{}, false, nil
		}
		return models.DeliveryStatus{}, false, err
	}
	var status models.DeliveryStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return models.DeliveryStatus{}, false, fmt.Errorf("decode delivery status: %w", err)
	}
	return status, true, nil
}
