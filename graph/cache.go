package graph

import (
	"context"
	"sync"
	"time"
)

// CacheStore is the storage seam CacheFallback writes through. The default
// is an in-memory map; graph/cache_redis.go adapts redis/go-redis/v9 behind
// the same interface so fallback state can be shared across processes.
type CacheStore interface {
	Get(ctx context.Context, key string) (value any, cachedAt time.Time, ok bool, err error)
	Set(ctx context.Context, key string, value any, cachedAt time.Time) error
}

// memoryCacheStore is the default CacheStore: a single-writer-per-key
// in-memory map.
type memoryCacheStore struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value    any
	cachedAt time.Time
}

// NewMemoryCacheStore returns an in-memory CacheStore.
func NewMemoryCacheStore() CacheStore {
	return &memoryCacheStore{entries: make(map[string]cacheEntry)}
}

func (m *memoryCacheStore) Get(_ context.Context, key string) (any, time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, time.Time{}, false, nil
	}
	return e.value, e.cachedAt, true, nil
}

func (m *memoryCacheStore) Set(_ context.Context, key string, value any, cachedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cacheEntry{value: value, cachedAt: cachedAt}
	return nil
}

// CacheFallback wraps a protected call with a keyed, TTL-bounded
// read-through cache: on success the result is cached under the caller's
// key; on failure, a still-fresh cached value is returned in its place and
// the outcome is marked "served from cache" rather than a clean success, so
// metrics and callers can distinguish recovery from a normal result.
type CacheFallback struct {
	store CacheStore
	ttl   time.Duration
}

// NewCacheFallback returns a CacheFallback backed by store with the given
// TTL. Pass NewMemoryCacheStore() for the default in-process behavior.
func NewCacheFallback(store CacheStore, ttl time.Duration) *CacheFallback {
	if store == nil {
		store = NewMemoryCacheStore()
	}
	return &CacheFallback{store: store, ttl: ttl}
}

// Call invokes fn; on success the result is cached under key and returned
// with servedFromCache=false. On failure, if a cache entry exists under key
// and is still within ttl, it is returned instead of the error with
// servedFromCache=true; otherwise the original error is returned.
func (c *CacheFallback) Call(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (value any, servedFromCache bool, err error) {
	result, callErr := fn(ctx)
	if callErr == nil {
		if setErr := c.store.Set(ctx, key, result, time.Now()); setErr != nil {
			return result, false, nil
		}
		return result, false, nil
	}

	cached, cachedAt, ok, getErr := c.store.Get(ctx, key)
	if getErr != nil || !ok {
		return nil, false, callErr
	}
	if time.Since(cachedAt) >= c.ttl {
		return nil, false, callErr
	}
	return cached, true, nil
}
