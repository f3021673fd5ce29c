package cache

import (
	"context"
	"time"
)

// LayeredCache implements two-level cache (L1: Memory, L2: Redis). Lists and locks live in L2 only.
type LayeredCache struct {
	memCache   *MemoryCache
	redisCache *RedisCache
	memTTL     time.Duration
}

// NewLayeredCache creates a layered cache with memory and Redis.
func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		MemoryTTL:     time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &LayeredCache{
		memCache:   NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		redisCache: redisCache,
		memTTL:     cfg.MemoryTTL,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	// Write-through: Redis first, then memory
	if err := lc.redisCache.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, value, lc.l1TTL(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var raw string
	if err := lc.memCache.Get(ctx, key, &raw); err == nil {
		return decodeValue(raw, dest)
	}

	if err := lc.redisCache.Get(ctx, key, &raw); err != nil {
		return err
	}

	_ = lc.memCache.Set(ctx, key, raw, lc.memTTL)
	return decodeValue(raw, dest)
}

func (lc *LayeredCache) l1TTL(expiration time.Duration) time.Duration {
	if expiration <= 0 || expiration > lc.memTTL {
		return lc.memTTL
	}
	return expiration
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.memCache.Delete(ctx, keys...)
	return lc.redisCache.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.memCache.DeleteByPattern(ctx, pattern)
	return lc.redisCache.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.redisCache.Exists(ctx, keys...)
}

func (lc *LayeredCache) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	_, _ = lc.memCache.Expire(ctx, key, lc.l1TTL(expiration))
	return lc.redisCache.Expire(ctx, key, expiration)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.redisCache.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.redisCache.Unlock(ctx, key)
}

func (lc *LayeredCache) ListPush(ctx context.Context, key string, values ...string) error {
	return lc.redisCache.ListPush(ctx, key, values...)
}

func (lc *LayeredCache) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return lc.redisCache.ListTrim(ctx, key, start, stop)
}

func (lc *LayeredCache) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return lc.redisCache.ListRange(ctx, key, start, stop)
}

// PushCapped forwards to the Redis layer so the push, trim and expiry stay atomic.
func (lc *LayeredCache) PushCapped(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	return lc.redisCache.PushCapped(ctx, key, value, maxLen, ttl)
}

// Close closes the memory layer. The Redis layer belongs to whoever built it.
func (lc *LayeredCache) Close() error {
	return lc.memCache.Close()
}

var _ Service = (*LayeredCache)(nil)
