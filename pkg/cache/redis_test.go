package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCacheFromClient(client, "test")
}

func TestRedisCache_SetGet(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	assert.True(t, mr.Exists("test:k"))

	var got map[string]int
	require.NoError(t, rc.Get(ctx, "k", &got))
	assert.Equal(t, 1, got["a"])

	var miss string
	assert.ErrorIs(t, rc.Get(ctx, "nope", &miss), ErrCacheMiss)
}

func TestRedisCache_PushCapped(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, rc.PushCapped(ctx, "h", string(rune('a'+i)), 3, time.Hour))
	}
	got, err := rc.ListRange(ctx, "h", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c"}, got)
	assert.Equal(t, time.Hour, mr.TTL("test:h"))
}

func TestRedisCache_DeleteByPattern(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "prediction:AAPL:1", "x", 0))
	require.NoError(t, rc.Set(ctx, "prediction:MSFT:1", "y", 0))
	require.NoError(t, rc.DeleteByPattern(ctx, BuildPattern("prediction:AAPL")))

	assert.False(t, mr.Exists("test:prediction:AAPL:1"))
	assert.True(t, mr.Exists("test:prediction:MSFT:1"))
}

func TestLayeredCache_ReadThrough(t *testing.T) {
	_, rc := newTestRedis(t)
	lc := NewLayeredCache(rc)
	defer lc.memCache.Close()
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", "from-redis", time.Minute))

	var got string
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "from-redis", got)

	var l1 string
	require.NoError(t, lc.memCache.Get(ctx, "k", &l1))
	assert.Equal(t, "from-redis", l1)
}

func TestLayeredCache_PushCapped(t *testing.T) {
	mr, rc := newTestRedis(t)
	var svc Service = NewLayeredCache(rc)
	defer svc.Close()
	ctx := context.Background()

	p, ok := svc.(interface {
		PushCapped(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error
	})
	require.True(t, ok, "layered cache pushes history atomically")
	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, p.PushCapped(ctx, "h", v, 2, time.Hour))
	}
	got, err := svc.ListRange(ctx, "h", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, got)
	assert.Equal(t, time.Hour, mr.TTL("test:h"))
}

func TestLayeredCache_CloseLeavesRedisOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(WithRedisAddr(mr.Addr()))
	require.NoError(t, err)
	lc := NewLayeredCache(rc)
	ctx := context.Background()

	require.NoError(t, lc.Close())
	require.NoError(t, rc.Set(ctx, "k", "v", time.Minute))
	assert.True(t, mr.Exists("fincast:k"))
	assert.NoError(t, rc.Close(), "the redis client is closed exactly once")
}
