package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service defines cache operations. Values other than strings are stored as JSON.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	ListStore
}

// ListStore is the list subset used for capped logs. Index semantics follow Redis
// (0 is the head, negative indexes count from the tail, stop is inclusive).
type ListStore interface {
	ListPush(ctx context.Context, key string, values ...string) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
}
