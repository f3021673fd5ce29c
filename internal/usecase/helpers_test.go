package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/repository"
	"FinCast/internal/services/features"
	"FinCast/internal/services/forecast"
	"FinCast/pkg/cache"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubModel forecasts a constant path with a fixed native confidence.
type stubModel struct {
	Kind       models.ModelType `json:"kind"`
	Value      float64          `json:"value"`
	Conf       float64          `json:"conf"`
	Fail       bool             `json:"fail"`
	FailUpdate bool             `json:"fail_update"`
	Panic      bool             `json:"panic"`
	Sleep      time.Duration    `json:"sleep"`
	Fits       int              `json:"fits"`
	Updates    int              `json:"updates"`
}

func stubConstructor(t models.ModelType) forecast.Constructor {
	return func(cfg map[string]any) (domsvc.Model, error) {
		return &stubModel{
			Kind:       t,
			Value:      models.ConfigFloat(cfg, "value", 10),
			Conf:       models.ConfigFloat(cfg, "confidence", 0.5),
			FailUpdate: models.ConfigBool(cfg, "fail_update", false),
		}, nil
	}
}

func (m *stubModel) Type() models.ModelType { return m.Kind }

func (m *stubModel) Fit(_ context.Context, data *models.Table) error {
	if _, ok := data.Column(models.ColClose); !ok {
		return errors.New("close column required")
	}
	m.Fits++
	return nil
}

func (m *stubModel) Update(_ context.Context, _ *models.Table) error {
	if m.FailUpdate {
		return errors.New("update diverged")
	}
	m.Updates++
	return nil
}

func (m *stubModel) Predict(ctx context.Context, features *models.Table, horizon int) ([]float64, error) {
	values, _, err := m.PredictConfidence(ctx, features, horizon)
	return values, err
}

func (m *stubModel) PredictConfidence(_ context.Context, _ *models.Table, horizon int) ([]float64, float64, error) {
	if m.Panic {
		panic("stub exploded")
	}
	if m.Sleep > 0 {
		time.Sleep(m.Sleep)
	}
	if m.Fail {
		return nil, 0, errors.New("stub failure")
	}
	out := make([]float64, horizon)
	for i := range out {
		out[i] = m.Value
	}
	return out, m.Conf, nil
}

// plainModel has no native confidence.
type plainModel struct {
	Values []float64 `json:"values"`
}

func (m *plainModel) Type() models.ModelType                       { return models.ModelTypeRandomForest }
func (m *plainModel) Fit(context.Context, *models.Table) error    { return nil }
func (m *plainModel) Update(context.Context, *models.Table) error { return nil }
func (m *plainModel) Predict(_ context.Context, _ *models.Table, horizon int) ([]float64, error) {
	if len(m.Values) >= horizon {
		return append([]float64(nil), m.Values[:horizon]...), nil
	}
	return m.Values, nil
}

// priceTable returns n rows of a gently rising close with volume.
func priceTable(n int) *models.Table {
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5
		volume[i] = 1000 + float64(i%7)*10
	}
	return &models.Table{
		Columns: []string{models.ColClose, models.ColVolume},
		Data:    [][]float64{closes, volume},
	}
}

type stubData struct {
	mu     sync.Mutex
	tables map[string]*models.Table
	calls  int
	err    error
}

func newStubData() *stubData { return &stubData{tables: map[string]*models.Table{}} }

func (d *stubData) set(symbol string, t *models.Table) {
	d.mu.Lock()
	d.tables[symbol] = t
	d.mu.Unlock()
}

func (d *stubData) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *stubData) GetHistoricalData(_ context.Context, symbol string, daysBack int) (*models.Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	t, ok := d.tables[symbol]
	if !ok {
		return models.CandlesToTable(nil), nil
	}
	return t.Tail(daysBack), nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingEvents) Publish(_ context.Context, evt models.Event) error {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	return nil
}

func (p *recordingEvents) Close() error { return nil }

func (p *recordingEvents) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	dir     string
	clock   *fakeClock
	factory *forecast.Factory
	store   *ModelStore
	reg     *ModelRegistry
	history *HistoryCache
	engine  *PredictionEngine
	data    *stubData
	events  *recordingEvents
}

func newFactory() *forecast.Factory {
	return forecast.NewFactory(
		forecast.WithConstructor(models.ModelTypeLSTM, stubConstructor(models.ModelTypeLSTM)),
		forecast.WithConstructor(models.ModelTypeGARCH, stubConstructor(models.ModelTypeGARCH)),
		forecast.WithConstructor(models.ModelTypeARIMA, stubConstructor(models.ModelTypeARIMA)),
	)
}

func newModelStore(t *testing.T, dir string) *ModelStore {
	t.Helper()
	meta, err := repository.NewFileMetadataStore(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	artifacts, err := repository.NewFSArtifactStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	return NewModelStore(meta, artifacts, nil)
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	h := &harness{
		dir:     t.TempDir(),
		clock:   newFakeClock(),
		factory: newFactory(),
		data:    newStubData(),
		events:  &recordingEvents{},
	}
	h.store = newModelStore(t, h.dir)
	h.reg = NewModelRegistry(h.store, h.factory, nil,
		WithClock(h.clock.Now),
		WithRegistryEvents(h.events),
	)
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	h.history = NewHistoryCache(repository.NewCacheHistoryStore(mc), nil, WithHistoryClock(h.clock.Now))

	cfg := DefaultEngineConfig()
	cfg.CacheTTL = 0
	opts = append([]EngineOption{WithEngineConfig(cfg), WithEngineClock(h.clock.Now), WithEngineEvents(h.events)}, opts...)
	h.engine = NewPredictionEngine(h.reg, h.data, features.NewEngineer(), h.history, nil, opts...)
	return h
}

// train fits a stub model of type t for symbol with cfg.
func (h *harness) train(t *testing.T, symbol string, typ models.ModelType, cfg map[string]any) *models.ModelRecord {
	t.Helper()
	rec, err := h.reg.Train(context.Background(), symbol, typ, priceTable(120), cfg)
	require.NoError(t, err)
	return rec
}

// mutate edits the cached stub instance for id.
func (h *harness) mutate(t *testing.T, id string, fn func(*stubModel)) {
	t.Helper()
	m, err := h.reg.Load(context.Background(), id)
	require.NoError(t, err)
	stub, ok := m.(*stubModel)
	require.True(t, ok, fmt.Sprintf("model %s is %T", id, m))
	fn(stub)
}

func request(symbol string, horizon int) models.PredictionRequest {
	return models.PredictionRequest{Symbol: symbol, Horizon: horizon, ConfidenceThreshold: 0.5}
}
