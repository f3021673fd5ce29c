package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/services/features"
	"FinCast/pkg/logger"
	"FinCast/pkg/metrics"
)

// ModelRegistry owns the model store and cache and is the only writer of model metadata.
// The index is guarded by mu; train, update, delete and cache-miss loads of one id are
// serialised through locks.
type ModelRegistry struct {
	store   *ModelStore
	cache   *ModelCache
	factory domsvc.ModelFactory
	events  domrepo.EventPublisher
	metrics domrepo.Metrics
	l       *logger.Logger

	mu        sync.RWMutex
	index     map[string]*models.ModelRecord
	reserved  map[string]struct{}
	revisions map[string]uint64
	epoch     int64
	locks     *keyedMutex

	minDataPoints int
	trainSplit    float64
	now           func() time.Time
}

// RegistryOption configures ModelRegistry.
type RegistryOption func(*ModelRegistry)

func WithMinDataPoints(n int) RegistryOption {
	return func(r *ModelRegistry) {
		if n > 1 {
			r.minDataPoints = n
		}
	}
}

func WithTrainSplit(f float64) RegistryOption {
	return func(r *ModelRegistry) {
		if f > 0 && f < 1 {
			r.trainSplit = f
		}
	}
}

func WithRegistryEvents(p domrepo.EventPublisher) RegistryOption {
	return func(r *ModelRegistry) {
		if p != nil {
			r.events = p
		}
	}
}

func WithRegistryMetrics(m domrepo.Metrics) RegistryOption {
	return func(r *ModelRegistry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *ModelRegistry) {
		r.now = now
	}
}

func NewModelRegistry(store *ModelStore, factory domsvc.ModelFactory, l *logger.Logger, opts ...RegistryOption) *ModelRegistry {
	if l == nil {
		l = logger.Nop()
	}
	r := &ModelRegistry{
		store:         store,
		cache:         NewModelCache(),
		factory:       factory,
		events:        noopEvents{},
		metrics:       metrics.Noop{},
		l:             l,
		index:         make(map[string]*models.ModelRecord),
		reserved:      make(map[string]struct{}),
		revisions:     make(map[string]uint64),
		epoch:         time.Now().UnixNano(),
		locks:         newKeyedMutex(),
		minDataPoints: 100,
		trainSplit:    0.8,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init loads the metadata index from the store.
func (r *ModelRegistry) Init(ctx context.Context) error {
	recs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load model index: %w", err)
	}
	r.mu.Lock()
	for _, rec := range recs {
		r.index[rec.ID] = rec
	}
	r.mu.Unlock()
	r.l.Info("model index loaded", logger.Int("models", len(recs)))
	return nil
}

// Revision identifies the current model set of symbol. It changes whenever a model of
// symbol is trained, updated or deleted, and differs between registry instances.
func (r *ModelRegistry) Revision(symbol string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("%x.%d", r.epoch, r.revisions[strings.ToUpper(symbol)])
}

func (r *ModelRegistry) bumpLocked(symbol string) {
	r.revisions[strings.ToUpper(symbol)]++
}

// MinDataPoints is the minimum number of rows accepted by Train and Update.
func (r *ModelRegistry) MinDataPoints() int {
	return r.minDataPoints
}

// Train fits a new model on data, evaluates it on the chronological tail and persists it.
func (r *ModelRegistry) Train(ctx context.Context, symbol string, t models.ModelType, data *models.Table, cfg map[string]any) (*models.ModelRecord, error) {
	if data.Len() < r.minDataPoints {
		return nil, &models.InsufficientDataError{Symbol: symbol, Got: data.Len(), Required: r.minDataPoints}
	}
	sym, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !r.factory.Supports(t) {
		return nil, models.NewValidationError("model_type", fmt.Sprintf("model type %q is not available", t))
	}
	data = features.FillNaN(data)
	target := models.ConfigString(cfg, "target", models.ColClose)
	if data.Index(target) < 0 {
		return nil, models.NewValidationError("target", fmt.Sprintf("target column %q not in training data", target))
	}

	start := r.now()
	id := r.reserveID(sym, t, start)
	defer r.release(id)
	unlock := r.locks.Lock(id)
	defer unlock()

	r.l.Info("training model",
		logger.String("model_id", id),
		logger.Int("rows", data.Len()),
		logger.Int("features", data.Width()),
	)

	fail := func(err error) (*models.ModelRecord, error) {
		r.metrics.RecordTraining(string(t), "error", r.now().Sub(start).Seconds())
		r.l.Error("model training failed", logger.String("model_id", id), logger.Error(err))
		return nil, fmt.Errorf("train %s: %w", id, err)
	}

	scores, err := r.evaluateFresh(ctx, t, cfg, data, target)
	if err != nil {
		return fail(err)
	}
	m, err := r.factory.Create(t, cfg)
	if err != nil {
		return fail(err)
	}
	if err := m.Fit(ctx, data); err != nil {
		return fail(fmt.Errorf("fit: %w", err))
	}
	blob, err := r.factory.Marshal(m)
	if err != nil {
		return fail(err)
	}

	finished := r.now()
	rec := &models.ModelRecord{
		ID:                      id,
		Symbol:                  sym,
		Type:                    t,
		Status:                  models.StatusTrained,
		CreatedAt:               finished,
		UpdatedAt:               finished,
		TrainingDurationSeconds: finished.Sub(start).Seconds(),
		Metrics:                 scores,
		ArtifactLocation:        ArtifactPath(id, finished),
		FeatureColumns:          append([]string(nil), data.Columns...),
		Config:                  models.MergeConfig(nil, cfg),
	}
	if err := r.store.Save(ctx, rec, blob, ""); err != nil {
		return fail(err)
	}

	r.mu.Lock()
	r.index[id] = rec
	r.bumpLocked(rec.Symbol)
	r.mu.Unlock()
	r.cache.Put(id, m)
	r.metrics.SetCachedModels(r.cache.Len())
	r.metrics.RecordTraining(string(t), "success", rec.TrainingDurationSeconds)

	r.l.Info("model trained",
		logger.String("model_id", id),
		logger.Float64("rmse", scores.RMSE),
		logger.Float64("directional_accuracy", scores.DirectionalAccuracy),
		logger.Duration("duration", finished.Sub(start)),
	)
	r.publish(ctx, models.EventModelTrained, rec)
	return rec.Clone(), nil
}

// Load returns the cached instance or deserializes it from the store.
func (r *ModelRegistry) Load(ctx context.Context, id string) (domsvc.Model, error) {
	if m, ok := r.cache.Get(id); ok {
		return m, nil
	}
	unlock := r.locks.Lock(id)
	defer unlock()
	return r.loadLocked(ctx, id)
}

func (r *ModelRegistry) loadLocked(ctx context.Context, id string) (domsvc.Model, error) {
	if m, ok := r.cache.Get(id); ok {
		return m, nil
	}
	rec, err := r.record(ctx, id)
	if err != nil {
		return nil, err
	}
	blob, err := r.store.LoadArtifact(ctx, rec)
	if err != nil {
		return nil, err
	}
	m, err := r.factory.Unmarshal(blob)
	if err != nil {
		return nil, fmt.Errorf("decode model %s: %w", id, err)
	}
	r.cache.Put(id, m)
	r.metrics.SetCachedModels(r.cache.Len())
	r.l.Debug("model loaded", logger.String("model_id", id))
	return m, nil
}

// record returns the indexed record, falling back to the metadata store.
func (r *ModelRegistry) record(ctx context.Context, id string) (*models.ModelRecord, error) {
	r.mu.RLock()
	rec, ok := r.index[id]
	r.mu.RUnlock()
	if ok {
		return rec.Clone(), nil
	}
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrModelNotFound) {
			return nil, &models.ModelNotFoundError{ModelID: id}
		}
		return nil, fmt.Errorf("read metadata for %s: %w", id, err)
	}
	r.mu.Lock()
	r.index[id] = rec
	r.mu.Unlock()
	return rec.Clone(), nil
}

// Update continues training model id on data. A non-empty cfg is merged into the stored
// config and triggers a refit from scratch. The cached instance is swapped only after the
// new artifact and metadata are persisted.
func (r *ModelRegistry) Update(ctx context.Context, id string, data *models.Table, cfg map[string]any) (*models.ModelRecord, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err := r.record(ctx, id)
	if err != nil {
		return nil, err
	}
	if data.Len() < r.minDataPoints {
		return nil, &models.InsufficientDataError{Symbol: rec.Symbol, Got: data.Len(), Required: r.minDataPoints}
	}
	data = features.FillNaN(data)

	start := r.now()
	refit := len(cfg) > 0
	merged := rec.Config
	if refit {
		merged = models.MergeConfig(rec.Config, cfg)
	}
	target := models.ConfigString(merged, "target", models.ColClose)

	next, scores, err := r.retrain(ctx, id, rec.Type, merged, refit, data, target)
	if err != nil {
		r.markFailed(ctx, rec, err)
		r.metrics.RecordTraining(string(rec.Type), "error", r.now().Sub(start).Seconds())
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	blob, err := r.factory.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}

	finished := r.now()
	updated := rec.Clone()
	updated.Status = models.StatusUpdated
	updated.UpdatedAt = finished
	updated.TrainingDurationSeconds = finished.Sub(start).Seconds()
	updated.Metrics = scores
	updated.ArtifactLocation = ArtifactPath(id, finished)
	updated.FeatureColumns = append([]string(nil), data.Columns...)
	updated.Config = models.MergeConfig(nil, merged)
	updated.LastError = ""
	if err := r.store.Save(ctx, updated, blob, rec.ArtifactLocation); err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}

	r.mu.Lock()
	r.index[id] = updated
	r.bumpLocked(updated.Symbol)
	r.mu.Unlock()
	r.cache.Put(id, next)
	r.metrics.SetCachedModels(r.cache.Len())
	r.metrics.RecordTraining(string(rec.Type), "success", updated.TrainingDurationSeconds)

	r.l.Info("model updated",
		logger.String("model_id", id),
		logger.Bool("refit", refit),
		logger.Float64("rmse", scores.RMSE),
	)
	r.publish(ctx, models.EventModelUpdated, updated)
	return updated.Clone(), nil
}

// retrain builds the replacement instance and its evaluation. The live instance is
// never mutated: incremental updates run on a codec clone.
func (r *ModelRegistry) retrain(ctx context.Context, id string, t models.ModelType, cfg map[string]any, refit bool, data *models.Table, target string) (domsvc.Model, models.ModelMetrics, error) {
	if data.Index(target) < 0 {
		return nil, models.ModelMetrics{}, models.NewValidationError("target", fmt.Sprintf("target column %q not in data", target))
	}
	if refit {
		scores, err := r.evaluateFresh(ctx, t, cfg, data, target)
		if err != nil {
			return nil, models.ModelMetrics{}, err
		}
		m, err := r.factory.Create(t, cfg)
		if err != nil {
			return nil, models.ModelMetrics{}, err
		}
		if err := m.Fit(ctx, data); err != nil {
			return nil, models.ModelMetrics{}, fmt.Errorf("fit: %w", err)
		}
		return m, scores, nil
	}

	current, err := r.loadLocked(ctx, id)
	if err != nil {
		return nil, models.ModelMetrics{}, err
	}
	cut := splitIndex(data.Len(), r.trainSplit)
	probe, err := r.factory.Clone(current)
	if err != nil {
		return nil, models.ModelMetrics{}, err
	}
	if err := probe.Update(ctx, data.Slice(0, cut)); err != nil {
		return nil, models.ModelMetrics{}, fmt.Errorf("incremental update: %w", err)
	}
	scores, err := walkForward(ctx, probe, data, target, cut, r.now())
	if err != nil {
		return nil, models.ModelMetrics{}, err
	}
	next, err := r.factory.Clone(current)
	if err != nil {
		return nil, models.ModelMetrics{}, err
	}
	if err := next.Update(ctx, data); err != nil {
		return nil, models.ModelMetrics{}, fmt.Errorf("incremental update: %w", err)
	}
	return next, scores, nil
}

// evaluateFresh fits a throwaway instance on the head of data and scores it on the tail.
func (r *ModelRegistry) evaluateFresh(ctx context.Context, t models.ModelType, cfg map[string]any, data *models.Table, target string) (models.ModelMetrics, error) {
	cut := splitIndex(data.Len(), r.trainSplit)
	probe, err := r.factory.Create(t, cfg)
	if err != nil {
		return models.ModelMetrics{}, err
	}
	if err := probe.Fit(ctx, data.Slice(0, cut)); err != nil {
		return models.ModelMetrics{}, fmt.Errorf("fit evaluation split: %w", err)
	}
	return walkForward(ctx, probe, data, target, cut, r.now())
}

// markFailed records a failed update. The previous artifact stays in place and loadable.
func (r *ModelRegistry) markFailed(ctx context.Context, rec *models.ModelRecord, cause error) {
	failed := rec.Clone()
	failed.Status = models.StatusFailed
	failed.UpdatedAt = r.now()
	failed.LastError = cause.Error()
	if err := r.store.PutMetadata(ctx, failed); err != nil {
		r.l.Error("failed to persist failed status", logger.String("model_id", rec.ID), logger.Error(err))
		return
	}
	r.mu.Lock()
	r.index[rec.ID] = failed
	r.mu.Unlock()
	r.l.Warn("model update failed", logger.String("model_id", rec.ID), logger.Error(cause))
	r.publish(ctx, models.EventModelFailed, failed)
}

// ListAvailable filters the in-memory index. Empty filters match everything.
// Results are ordered newest first.
func (r *ModelRegistry) ListAvailable(symbol string, t models.ModelType) []models.ModelSummary {
	recs := r.matching(symbol, t)
	out := make([]models.ModelSummary, len(recs))
	for i, rec := range recs {
		out[i] = rec.Summary()
	}
	return out
}

// Records is ListAvailable returning full record copies.
func (r *ModelRegistry) Records(symbol string, t models.ModelType) []*models.ModelRecord {
	return r.matching(symbol, t)
}

func (r *ModelRegistry) matching(symbol string, t models.ModelType) []*models.ModelRecord {
	if symbol != "" {
		if sym, err := models.NormalizeSymbol(symbol); err == nil {
			symbol = sym
		}
	}
	r.mu.RLock()
	out := make([]*models.ModelRecord, 0, len(r.index))
	for _, rec := range r.index {
		if symbol != "" && rec.Symbol != symbol {
			continue
		}
		if t != "" && rec.Type != t {
			continue
		}
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete evicts and removes model id. Unknown ids return false without error.
func (r *ModelRegistry) Delete(ctx context.Context, id string) (bool, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err := r.record(ctx, id)
	if errors.Is(err, models.ErrModelNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	r.cache.Delete(id)
	r.metrics.SetCachedModels(r.cache.Len())
	if _, err := r.store.Remove(ctx, rec); err != nil {
		return false, err
	}
	r.mu.Lock()
	delete(r.index, id)
	r.bumpLocked(rec.Symbol)
	r.mu.Unlock()

	r.l.Info("model deleted", logger.String("model_id", id))
	r.publish(ctx, models.EventModelDeleted, rec)
	return true, nil
}

// CleanupOldModels deletes every model created more than daysOld days ago.
func (r *ModelRegistry) CleanupOldModels(ctx context.Context, daysOld int) (int, error) {
	if daysOld < 0 {
		return 0, models.NewValidationError("days_old", "days_old must not be negative")
	}
	cutoff := r.now().AddDate(0, 0, -daysOld)

	r.mu.RLock()
	var stale []string
	for id, rec := range r.index {
		if rec.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(stale)

	deleted := 0
	var errs []error
	for _, id := range stale {
		ok, err := r.Delete(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			deleted++
		}
	}
	r.l.Info("old models cleaned up",
		logger.Int("deleted", deleted),
		logger.Int("days_old", daysOld),
		logger.Int("errors", len(errs)),
	)
	return deleted, errors.Join(errs...)
}

// Get returns a copy of the record for id.
func (r *ModelRegistry) Get(ctx context.Context, id string) (*models.ModelRecord, error) {
	return r.record(ctx, id)
}

// Metrics returns the latest evaluation of model id.
func (r *ModelRegistry) Metrics(ctx context.Context, id string) (models.ModelMetrics, error) {
	rec, err := r.record(ctx, id)
	if err != nil {
		return models.ModelMetrics{}, err
	}
	return rec.Metrics, nil
}

func (r *ModelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// RegistryHealth summarises the registry for health checks.
type RegistryHealth struct {
	Status       string             `json:"status"`
	Models       int                `json:"models"`
	CachedModels int                `json:"cached_models"`
	Families     []models.ModelType `json:"families"`
}

func (r *ModelRegistry) Health() RegistryHealth {
	return RegistryHealth{
		Status:       "healthy",
		Models:       r.Count(),
		CachedModels: r.cache.Len(),
		Families:     r.factory.Types(),
	}
}

// Close drops every cached instance and closes the metadata store.
func (r *ModelRegistry) Close() error {
	r.cache.Clear()
	r.metrics.SetCachedModels(0)
	return r.store.Close()
}

// reserveID returns a process-unique id, appending _2, _3, ... on collisions.
func (r *ModelRegistry) reserveID(symbol string, t models.ModelType, at time.Time) string {
	base := models.ModelID(symbol, t, at)
	r.mu.Lock()
	defer r.mu.Unlock()
	id := base
	for n := 2; ; n++ {
		_, indexed := r.index[id]
		_, taken := r.reserved[id]
		if !indexed && !taken {
			break
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
	r.reserved[id] = struct{}{}
	return id
}

func (r *ModelRegistry) release(id string) {
	r.mu.Lock()
	delete(r.reserved, id)
	r.mu.Unlock()
}

func (r *ModelRegistry) publish(ctx context.Context, typ models.EventType, rec *models.ModelRecord) {
	evt := models.Event{
		Type:       typ,
		Symbol:     rec.Symbol,
		ModelID:    rec.ID,
		OccurredAt: r.now().UTC(),
		Payload:    rec.Summary(),
	}
	if err := r.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		r.l.Warn("failed to publish event",
			logger.String("type", string(typ)),
			logger.String("model_id", rec.ID),
			logger.Error(err),
		)
	}
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, models.Event) error { return nil }
func (noopEvents) Close() error                                { return nil }
