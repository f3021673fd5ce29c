package repository

import (
	"context"
	"errors"
	"fmt"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

// RedisArtifactStore keeps artifacts as plain Redis strings without expiry.
type RedisArtifactStore struct {
	client *redis.Client
	prefix string
}

func NewRedisArtifactStore(client *redis.Client, prefix string) *RedisArtifactStore {
	return &RedisArtifactStore{client: client, prefix: prefix}
}

func (s *RedisArtifactStore) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + ":" + path
}

func (s *RedisArtifactStore) Put(ctx context.Context, path string, data []byte) error {
	if err := s.client.Set(ctx, s.key(path), data, 0).Err(); err != nil {
		return fmt.Errorf("put artifact %s: %w", path, err)
	}
	return nil
}

func (s *RedisArtifactStore) Get(ctx context.Context, path string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", models.ErrArtifactNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", path, err)
	}
	return b, nil
}

func (s *RedisArtifactStore) Delete(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, s.key(path)).Err(); err != nil {
		return fmt.Errorf("delete artifact %s: %w", path, err)
	}
	return nil
}

var _ domrepo.ArtifactStore = (*RedisArtifactStore)(nil)
