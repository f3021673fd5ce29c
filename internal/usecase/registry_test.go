package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"FinCast/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainRejectsShortHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.reg.Train(ctx, "AAPL", models.ModelTypeLSTM, priceTable(50), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	var ide *models.InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, 50, ide.Got)
	assert.Equal(t, 100, ide.Required)

	assert.Equal(t, 0, h.reg.Count())
	stored, err := h.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestTrainPersistsEvaluatesAndCaches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.reg.Train(ctx, "aapl", models.ModelTypeLSTM, priceTable(120), map[string]any{"value": 42.0})
	require.NoError(t, err)

	assert.Equal(t, "AAPL_lstm_20240301_120000", rec.ID)
	assert.Equal(t, "AAPL", rec.Symbol)
	assert.Equal(t, models.StatusTrained, rec.Status)
	assert.Equal(t, []string{models.ColClose, models.ColVolume}, rec.FeatureColumns)
	assert.Equal(t, 24, rec.Metrics.DataPoints, "last 20% of 120 rows")
	assert.Equal(t, 42.0, rec.Config["value"])
	assert.Equal(t, []models.EventType{models.EventModelTrained}, h.events.types())

	stored, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ArtifactLocation, stored.ArtifactLocation)

	m, err := h.reg.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.(*stubModel).Fits)

	// a second registry over the same store sees the model after Init
	other := NewModelRegistry(newModelStore(t, h.dir), newFactory(), nil)
	require.NoError(t, other.Init(ctx))
	assert.Equal(t, 1, other.Count())
	loaded, err := other.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 42.0, loaded.(*stubModel).Value)
}

func TestTrainGeneratesUniqueIDs(t *testing.T) {
	h := newHarness(t)

	a := h.train(t, "AAPL", models.ModelTypeLSTM, nil)
	b := h.train(t, "AAPL", models.ModelTypeLSTM, nil)
	c := h.train(t, "AAPL", models.ModelTypeLSTM, nil)

	assert.Equal(t, "AAPL_lstm_20240301_120000", a.ID)
	assert.Equal(t, "AAPL_lstm_20240301_120000_2", b.ID)
	assert.Equal(t, "AAPL_lstm_20240301_120000_3", c.ID)
}

func TestTrainUnknownFamily(t *testing.T) {
	h := newHarness(t)
	_, err := h.reg.Train(context.Background(), "AAPL", models.ModelTypeRemote, priceTable(120), nil)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, 0, h.reg.Count())
}

func TestDeleteThenLoad(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.train(t, "AAPL", models.ModelTypeLSTM, nil)

	ok, err := h.reg.Delete(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.reg.Load(ctx, rec.ID)
	assert.ErrorIs(t, err, models.ErrModelNotFound)

	ok, err = h.reg.Delete(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.reg.Delete(ctx, "never-existed")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.store.LoadArtifact(ctx, rec)
	assert.ErrorIs(t, err, models.ErrArtifactNotFound)
	assert.Contains(t, h.events.types(), models.EventModelDeleted)
}

func TestLoadRacingDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.train(t, "AAPL", models.ModelTypeLSTM, nil)
	h.reg.cache.Clear()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m, err := h.reg.Load(ctx, rec.ID)
			if err != nil {
				assert.ErrorIs(t, err, models.ErrModelNotFound)
				return
			}
			assert.NotNil(t, m)
		}()
		go func() {
			defer wg.Done()
			_, err := h.reg.Delete(ctx, rec.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := h.reg.Load(ctx, rec.ID)
	assert.ErrorIs(t, err, models.ErrModelNotFound)
	assert.Equal(t, 0, h.reg.cache.Len())
	assert.Equal(t, 0, h.reg.locks.size())
}

func TestUpdateIncremental(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.train(t, "AAPL", models.ModelTypeLSTM, nil)
	before, err := h.reg.Load(ctx, rec.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	updated, err := h.reg.Update(ctx, rec.ID, priceTable(150), nil)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, updated.ID)
	assert.Equal(t, models.StatusUpdated, updated.Status)
	assert.Equal(t, rec.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(rec.UpdatedAt))
	assert.Equal(t, 30, updated.Metrics.DataPoints)
	assert.NotEqual(t, rec.ArtifactLocation, updated.ArtifactLocation)

	after, err := h.reg.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.(*stubModel).Updates)
	assert.Equal(t, 0, before.(*stubModel).Updates, "live instance is never mutated")

	_, err = h.store.LoadArtifact(ctx, rec)
	assert.ErrorIs(t, err, models.ErrArtifactNotFound, "previous artifact removed")
}

func TestUpdateWithConfigRefits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.train(t, "AAPL", models.ModelTypeLSTM, map[string]any{"value": 1.0, "confidence": 0.4})

	updated, err := h.reg.Update(ctx, rec.ID, priceTable(120), map[string]any{"value": 7.0})
	require.NoError(t, err)
	assert.Equal(t, 7.0, updated.Config["value"])
	assert.Equal(t, 0.4, updated.Config["confidence"])

	m, err := h.reg.Load(ctx, rec.ID)
	require.NoError(t, err)
	stub := m.(*stubModel)
	assert.Equal(t, 7.0, stub.Value)
	assert.Equal(t, 0, stub.Updates)
}

func TestUpdateFailureKeepsLastGoodArtifact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.train(t, "AAPL", models.ModelTypeLSTM, map[string]any{"fail_update": true})

	_, err := h.reg.Update(ctx, rec.ID, priceTable(120), nil)
	require.Error(t, err)

	got, err := h.reg.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "update diverged")
	assert.Equal(t, rec.ArtifactLocation, got.ArtifactLocation)

	h.reg.cache.Clear()
	_, err = h.reg.Load(ctx, rec.ID)
	assert.NoError(t, err)
	assert.Contains(t, h.events.types(), models.EventModelFailed)
}

func TestRevisionTracksModelChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r0 := h.reg.Revision("AAPL")
	rec := h.train(t, "AAPL", models.ModelTypeLSTM, nil)
	r1 := h.reg.Revision("aapl")
	assert.NotEqual(t, r0, r1)
	assert.Equal(t, r0, h.reg.Revision("MSFT"), "other symbols are untouched")

	_, err := h.reg.Update(ctx, rec.ID, priceTable(120), nil)
	require.NoError(t, err)
	r2 := h.reg.Revision("AAPL")
	assert.NotEqual(t, r1, r2)

	ok, err := h.reg.Delete(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, r2, h.reg.Revision("AAPL"))
}

func TestUpdateMissingModel(t *testing.T) {
	h := newHarness(t)
	_, err := h.reg.Update(context.Background(), "AAPL_lstm_19990101_000000", priceTable(120), nil)
	assert.ErrorIs(t, err, models.ErrModelNotFound)
}

func TestListAvailable(t *testing.T) {
	h := newHarness(t)
	first := h.train(t, "AAPL", models.ModelTypeLSTM, nil)
	h.clock.Advance(time.Minute)
	second := h.train(t, "AAPL", models.ModelTypeGARCH, nil)
	h.train(t, "MSFT", models.ModelTypeLSTM, nil)

	all := h.reg.ListAvailable("", "")
	assert.Len(t, all, 3)

	aapl := h.reg.ListAvailable("aapl", "")
	require.Len(t, aapl, 2)
	assert.Equal(t, second.ID, aapl[0].ID, "newest first")
	assert.Equal(t, first.ID, aapl[1].ID)

	lstm := h.reg.ListAvailable("AAPL", models.ModelTypeLSTM)
	require.Len(t, lstm, 1)
	assert.Equal(t, first.ID, lstm[0].ID)

	assert.Empty(t, h.reg.ListAvailable("TSLA", ""))
}

func TestCleanupOldModels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.train(t, "AAPL", models.ModelTypeLSTM, nil)
	h.clock.Advance(20 * 24 * time.Hour)
	fresh := h.train(t, "AAPL", models.ModelTypeGARCH, nil)
	h.clock.Advance(15 * 24 * time.Hour)

	n, err := h.reg.CleanupOldModels(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.reg.Get(ctx, old.ID)
	assert.ErrorIs(t, err, models.ErrModelNotFound)
	_, err = h.reg.Get(ctx, fresh.ID)
	assert.NoError(t, err)

	_, err = h.reg.CleanupOldModels(ctx, -1)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRegistryMetricsAndHealth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.train(t, "AAPL", models.ModelTypeLSTM, nil)

	m, err := h.reg.Metrics(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Metrics, m)

	_, err = h.reg.Metrics(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrModelNotFound)

	health := h.reg.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Models)
	assert.Equal(t, 1, health.CachedModels)
	assert.Contains(t, health.Families, models.ModelTypeLinear)

	require.NoError(t, h.reg.Close())
	assert.Equal(t, 0, h.reg.cache.Len())
}

func TestEvaluate(t *testing.T) {
	m := Evaluate([]float64{1, 2, 3, 2}, []float64{1, 3, 4, 1}, t0)
	assert.Equal(t, 4, m.DataPoints)
	assert.InDelta(t, 0.75, m.MAE, 1e-12)
	assert.InDelta(t, 0.8660254, m.RMSE, 1e-6)
	assert.InDelta(t, 1.0, m.DirectionalAccuracy, 1e-12)

	m = Evaluate([]float64{5, 5, 5}, []float64{4, 6, 5}, t0)
	assert.Equal(t, 0.0, m.R2, "constant actuals")
	assert.InDelta(t, 0.5, m.DirectionalAccuracy, 1e-12)

	assert.Equal(t, 0, Evaluate(nil, nil, t0).DataPoints)
}

func TestSplitIndex(t *testing.T) {
	assert.Equal(t, 80, splitIndex(100, 0.8))
	assert.Equal(t, 1, splitIndex(2, 0.1))
	assert.Equal(t, 9, splitIndex(10, 0.99))
}
