package graph

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheStore adapts a redis.Client into the CacheStore interface so a
// CacheFallback's recovered values can be shared across process instances.
// Not used by default — graph.NewMemoryCacheStore keeps the core with no
// hard external dependency — but wired here for deployments that run
// multiple engine instances behind the same fallback cache.
type RedisCacheStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCacheStore returns a CacheStore backed by client, namespacing
// keys under prefix.
func NewRedisCacheStore(client *redis.Client, prefix string) *RedisCacheStore {
	return &RedisCacheStore{client: client, prefix: prefix}
}

type redisCacheRecord struct {
	Value    json.RawMessage `json:"value"`
	CachedAt time.Time       `json:"cached_at"`
}

func (r *RedisCacheStore) namespacedKey(key string) string {
	return r.prefix + ":" + key
}

// Get implements CacheStore.
func (r *RedisCacheStore) Get(ctx context.Context, key string) (any, time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.namespacedKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	var rec redisCacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, time.Time{}, false, err
	}
	var value any
	if err := json.Unmarshal(rec.Value, &value); err != nil {
		return nil, time.Time{}, false, err
	}
	return value, rec.CachedAt, true, nil
}

// Set implements CacheStore.
func (r *RedisCacheStore) Set(ctx context.Context, key string, value any, cachedAt time.Time) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return err
	}
	rec := redisCacheRecord{Value: valueJSON, CachedAt: cachedAt}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.namespacedKey(key), data, 0).Err()
}
