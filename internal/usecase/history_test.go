package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	"FinCast/internal/repository"
	"FinCast/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T, opts ...HistoryOption) (*HistoryCache, *fakeClock, *cache.MemoryCache) {
	t.Helper()
	clock := newFakeClock()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	opts = append([]HistoryOption{WithHistoryClock(clock.Now)}, opts...)
	return NewHistoryCache(repository.NewCacheHistoryStore(mc), nil, opts...), clock, mc
}

func okResponse(symbol string, conf float64) *models.PredictionResponse {
	return &models.PredictionResponse{
		Symbol:  symbol,
		Horizon: 1,
		Values:  []float64{conf},
		Metadata: models.PredictionMetadata{
			GeneratedAt:     t0,
			ModelCount:      1,
			ConfidenceScore: conf,
		},
	}
}

func TestHistoryCapsAtMaxEntries(t *testing.T) {
	h, _, _ := newTestHistory(t)
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		resp := okResponse("AAPL", 0.5)
		resp.Horizon = i + 1
		_, err := h.Append(ctx, resp)
		require.NoError(t, err)
	}

	got, err := h.Get(ctx, "AAPL", 2000)
	require.NoError(t, err)
	require.Len(t, got, 1000)
	assert.Equal(t, 1200, got[0].Response.Horizon, "newest first")
	assert.Equal(t, 201, got[999].Response.Horizon)

	got, err = h.Get(ctx, "AAPL", 0)
	require.NoError(t, err)
	assert.Len(t, got, 100)
}

func TestHistoryEntryFields(t *testing.T) {
	h, _, _ := newTestHistory(t)
	ctx := context.Background()

	entry, err := h.Append(ctx, okResponse("MSFT", 0.8))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "MSFT", entry.Symbol)
	assert.Equal(t, t0, entry.RecordedAt)

	got, err := h.Get(ctx, "MSFT", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entry.ID, got[0].ID)
	assert.Equal(t, []float64{0.8}, got[0].Response.Values)

	empty, err := h.Get(ctx, "TSLA", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHistoryRetention(t *testing.T) {
	h, clock, _ := newTestHistory(t, WithHistoryLimits(10, 48*time.Hour))
	ctx := context.Background()

	_, err := h.Append(ctx, okResponse("AAPL", 0.1))
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)
	_, err = h.Append(ctx, okResponse("AAPL", 0.2))
	require.NoError(t, err)
	clock.Advance(36 * time.Hour)

	got, err := h.Get(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "first entry is past retention")
	assert.Equal(t, []float64{0.2}, got[0].Response.Values)

	// the next append trims the expired tail from the store
	_, err = h.Append(ctx, okResponse("AAPL", 0.3))
	require.NoError(t, err)
	raw, err := h.store.Range(ctx, "predictions:history:AAPL", 0, -1)
	require.NoError(t, err)
	assert.Len(t, raw, 2)

	clock.Advance(72 * time.Hour)
	_, err = h.Append(ctx, okResponse("AAPL", 0.4))
	require.NoError(t, err)
	got, err = h.Get(ctx, "AAPL", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// racingHistoryStore pushes one extra entry right after the first full read of a list,
// standing in for a concurrent Append that lands between the read and the trim.
type racingHistoryStore struct {
	domrepo.HistoryStore
	armed bool
	extra []byte
}

func (s *racingHistoryStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	out, err := s.HistoryStore.Range(ctx, key, start, stop)
	if err == nil && s.armed && start == 0 && stop == -1 {
		s.armed = false
		if perr := s.HistoryStore.Push(ctx, key, s.extra, 1000, time.Hour); perr != nil {
			return nil, perr
		}
	}
	return out, err
}

func TestHistoryTrimKeepsConcurrentAppends(t *testing.T) {
	clock := newFakeClock()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	store := &racingHistoryStore{HistoryStore: repository.NewCacheHistoryStore(mc)}
	h := NewHistoryCache(store, nil, WithHistoryClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.Append(ctx, okResponse("AAPL", 0.1))
		require.NoError(t, err)
	}
	clock.Advance(8 * 24 * time.Hour)

	extra, err := json.Marshal(historyRecord{V: historyVersion, HistoryEntry: models.HistoryEntry{
		ID:         "concurrent",
		Symbol:     "AAPL",
		RecordedAt: clock.Now().UTC(),
		Response:   okResponse("AAPL", 0.7),
	}})
	require.NoError(t, err)
	store.extra = extra
	store.armed = true

	own, err := h.Append(ctx, okResponse("AAPL", 0.3))
	require.NoError(t, err)
	assert.False(t, store.armed, "the trim path read the full list")

	got, err := h.Get(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "concurrent", got[0].ID)
	assert.Equal(t, own.ID, got[1].ID)

	raw, err := mc.ListRange(ctx, "predictions:history:AAPL", 0, -1)
	require.NoError(t, err)
	assert.Len(t, raw, 2, "expired entries are gone from the store")
}

func TestHistoryTrimDropsWholeExpiredList(t *testing.T) {
	h, clock, mc := newTestHistory(t, WithHistoryLimits(10, time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.Append(ctx, okResponse("AAPL", 0.1))
		require.NoError(t, err)
	}
	require.NoError(t, h.trimExpired(ctx, "predictions:history:AAPL"))
	raw, err := mc.ListRange(ctx, "predictions:history:AAPL", 0, -1)
	require.NoError(t, err)
	assert.Len(t, raw, 3)

	clock.Advance(2 * time.Hour)
	require.NoError(t, h.trimExpired(ctx, "predictions:history:AAPL"))
	raw, err = mc.ListRange(ctx, "predictions:history:AAPL", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestHistorySkipsUndecodableEntries(t *testing.T) {
	h, _, mc := newTestHistory(t)
	ctx := context.Background()

	_, err := h.Append(ctx, okResponse("AAPL", 0.5))
	require.NoError(t, err)
	require.NoError(t, mc.ListPush(ctx, "predictions:history:AAPL", "__import__('os')"))
	require.NoError(t, mc.ListPush(ctx, "predictions:history:AAPL", `{"v":99,"id":"future"}`))
	_, err = h.Append(ctx, okResponse("AAPL", 0.6))
	require.NoError(t, err)

	got, err := h.Get(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float64{0.6}, got[0].Response.Values)
	assert.Equal(t, []float64{0.5}, got[1].Response.Values)
}

func TestHistoryPerformance(t *testing.T) {
	h, clock, _ := newTestHistory(t)
	ctx := context.Background()

	_, err := h.Append(ctx, okResponse("AAPL", 0.9))
	require.NoError(t, err)
	clock.Advance(3 * 24 * time.Hour)
	_, err = h.Append(ctx, okResponse("AAPL", 0.6))
	require.NoError(t, err)
	_, err = h.Append(ctx, okResponse("AAPL", 0.4))
	require.NoError(t, err)
	_, err = h.Append(ctx, models.NewErrorResponse("AAPL", 1, errors.New("boom"), clock.Now()))
	require.NoError(t, err)

	perf, err := h.Performance(ctx, "AAPL", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, perf.AnalysisPeriodDays)
	assert.Equal(t, 3, perf.TotalPredictions)
	assert.Equal(t, 2, perf.SuccessfulPredictions)
	assert.InDelta(t, 2.0/3.0, perf.SuccessRate, 1e-12)
	assert.InDelta(t, 0.5, perf.AverageConfidence, 1e-12)

	perf, err = h.Performance(ctx, "AAPL", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, perf.AnalysisPeriodDays)
	assert.Equal(t, 4, perf.TotalPredictions)

	perf, err = h.Performance(ctx, "NONE", 7)
	require.NoError(t, err)
	assert.Zero(t, perf.TotalPredictions)
	assert.Zero(t, perf.SuccessRate)
}
