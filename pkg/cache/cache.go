// Package cache is the TTL cache used to memoize market lookups.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"walletdash/pkg/config"
	"walletdash/pkg/metrics"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// Cache is a key-value store with per-entry expiry. Expired entries are never
// returned. Concurrent loads of the same key share one loader call.
type Cache struct {
	items   *gocache.Cache
	group   singleflight.Group
	hits    atomic.Uint64
	misses  atomic.Uint64
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a cache. A ttl of 0 passed to Set or GetOrLoad means
// defaultTTL.
func New(defaultTTL, cleanupInterval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		items:   gocache.New(defaultTTL, cleanupInterval),
		logger:  logger.Named("cache"),
		metrics: m,
	}
}

// FromConfig creates a cache from the cache section of the config file.
func FromConfig(cfg config.CacheConfig, logger *zap.Logger, m *metrics.Metrics) *Cache {
	return New(
		time.Duration(cfg.DefaultTTLSeconds)*time.Second,
		time.Duration(cfg.CleanupIntervalSeconds)*time.Second,
		logger, m,
	)
}

func (c *Cache) Get(key string) (interface{}, bool) {
	v, ok := c.items.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.metrics.ObserveCacheLookup(ok)
	return v, ok
}

func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.items.Set(key, value, ttl)
}

func (c *Cache) Delete(key string) {
	c.items.Delete(key)
}

// Clear drops every entry. Hit and miss counters are kept.
func (c *Cache) Clear() {
	c.items.Flush()
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.items.ItemCount(),
	}
}

// GetOrLoad returns the cached value for key or stores the result of loader.
// Loader errors are returned and not cached.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.items.Get(key); ok {
			return v, nil
		}
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	if shared {
		c.logger.Debug("Shared in-flight load", zap.String("key", key))
	}
	return v, err
}

// Load is the typed form of GetOrLoad.
func Load[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	v, err := c.GetOrLoad(ctx, key, ttl, func(ctx context.Context) (interface{}, error) {
		return loader(ctx)
	})
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache key %q holds %T", key, v)
	}
	return t, nil
}
