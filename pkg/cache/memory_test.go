package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetJSON(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	type payload struct {
		Values []float64 `json:"values"`
	}
	require.NoError(t, mc.Set(ctx, "k", payload{Values: []float64{1, 2}}, time.Minute))

	var got payload
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, []float64{1, 2}, got.Values)

	var raw string
	require.NoError(t, mc.Get(ctx, "k", &raw))
	assert.JSONEq(t, `{"values":[1,2]}`, raw)
}

func TestMemoryCache_Expiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "k", "v", time.Second))
	now = now.Add(2 * time.Second)

	var got string
	assert.ErrorIs(t, mc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { now = now.Add(time.Millisecond); return now }

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	var v string
	require.NoError(t, mc.Get(ctx, "a", &v))
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	ok, err := mc.Exists(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "least recently used key should be evicted")
	ok, _ = mc.Exists(ctx, "a")
	assert.True(t, ok)
}

func TestMemoryCache_ListPushTrimRange(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	for _, v := range []string{"1", "2", "3", "4"} {
		require.NoError(t, mc.ListPush(ctx, "l", v))
	}
	got, err := mc.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3", "2", "1"}, got)

	require.NoError(t, mc.ListTrim(ctx, "l", 0, 1))
	got, err = mc.ListRange(ctx, "l", 0, 99)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3"}, got)

	got, err = mc.ListRange(ctx, "missing", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryCache_ListExpire(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.ListPush(ctx, "l", "x"))
	ok, err := mc.Expire(ctx, "l", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	got, err := mc.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryCache_DeleteByPattern(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "prediction:AAPL:1", "x", 0))
	require.NoError(t, mc.Set(ctx, "prediction:MSFT:1", "y", 0))
	require.NoError(t, mc.DeleteByPattern(ctx, BuildPattern("prediction:AAPL")))

	ok, _ := mc.Exists(ctx, "prediction:AAPL:1")
	assert.False(t, ok)
	ok, _ = mc.Exists(ctx, "prediction:MSFT:1")
	assert.True(t, ok)
}

func TestMemoryCache_TryLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "lock", time.Minute)
	assert.False(t, ok)
	require.NoError(t, mc.Unlock(ctx, "lock"))
	ok, _ = mc.TryLock(ctx, "lock", time.Minute)
	assert.True(t, ok)
}
