package repository

import (
	"context"
	"fmt"
	"time"

	domrepo "FinCast/internal/domain/repository"
	"FinCast/pkg/cache"
)

// cappedPusher is implemented by caches that can push, trim and expire atomically.
type cappedPusher interface {
	PushCapped(ctx context.Context, key string, value string, maxLen int64, ttl time.Duration) error
}

// CacheHistoryStore implements HistoryStore over cache list primitives.
type CacheHistoryStore struct {
	lists cache.ListStore
}

func NewCacheHistoryStore(lists cache.ListStore) *CacheHistoryStore {
	return &CacheHistoryStore{lists: lists}
}

func (s *CacheHistoryStore) Push(ctx context.Context, key string, value []byte, maxLen int, ttl time.Duration) error {
	if p, ok := s.lists.(cappedPusher); ok {
		if err := p.PushCapped(ctx, key, string(value), int64(maxLen), ttl); err != nil {
			return fmt.Errorf("push history %s: %w", key, err)
		}
		return nil
	}

	if err := s.lists.ListPush(ctx, key, string(value)); err != nil {
		return fmt.Errorf("push history %s: %w", key, err)
	}
	if maxLen > 0 {
		if err := s.lists.ListTrim(ctx, key, 0, int64(maxLen-1)); err != nil {
			return fmt.Errorf("trim history %s: %w", key, err)
		}
	}
	if ttl > 0 {
		if _, err := s.lists.Expire(ctx, key, ttl); err != nil {
			return fmt.Errorf("expire history %s: %w", key, err)
		}
	}
	return nil
}

func (s *CacheHistoryStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := s.lists.ListRange(ctx, key, start, stop)
	if err != nil {
		return nil, fmt.Errorf("range history %s: %w", key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *CacheHistoryStore) Trim(ctx context.Context, key string, start, stop int64) error {
	if err := s.lists.ListTrim(ctx, key, start, stop); err != nil {
		return fmt.Errorf("trim history %s: %w", key, err)
	}
	return nil
}

var _ domrepo.HistoryStore = (*CacheHistoryStore)(nil)
