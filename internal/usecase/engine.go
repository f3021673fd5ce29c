package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/services/features"
	"FinCast/pkg/cache"
	"FinCast/pkg/logger"
	"FinCast/pkg/metrics"
)

// RetrainSubmitter queues a background retrain of one model.
type RetrainSubmitter interface {
	Submit(ctx context.Context, modelID string) (bool, error)
}

// EngineConfig holds the orchestration limits.
type EngineConfig struct {
	MinDataPoints     int
	FeatureWindow     int
	MaxHistoricalDays int
	ModelTimeout      time.Duration
	BatchConcurrency  int
	MaxBatchSize      int
	CacheTTL          time.Duration
	UpdateInterval    time.Duration
	BackgroundTimeout time.Duration
}

// DefaultEngineConfig mirrors the service defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MinDataPoints:     100,
		FeatureWindow:     20,
		MaxHistoricalDays: 2520,
		ModelTimeout:      10 * time.Second,
		BatchConcurrency:  8,
		MaxBatchSize:      100,
		CacheTTL:          5 * time.Minute,
		UpdateInterval:    time.Hour,
		BackgroundTimeout: 5 * time.Second,
	}
}

// PredictionEngine resolves models for a request, runs them concurrently and merges
// their forecasts.
type PredictionEngine struct {
	registry *ModelRegistry
	data     domrepo.HistoricalDataProvider
	engineer domsvc.FeatureEngineer
	history  *HistoryCache
	cfg      EngineConfig

	responses cache.Service
	events    domrepo.EventPublisher
	metrics   domrepo.Metrics
	retrain   RetrainSubmitter
	l         *logger.Logger
	now       func() time.Time

	bg sync.WaitGroup
}

// EngineOption configures PredictionEngine.
type EngineOption func(*PredictionEngine)

func WithEngineConfig(cfg EngineConfig) EngineOption {
	return func(e *PredictionEngine) {
		def := DefaultEngineConfig()
		if cfg.MinDataPoints <= 0 {
			cfg.MinDataPoints = def.MinDataPoints
		}
		if cfg.FeatureWindow < 0 {
			cfg.FeatureWindow = def.FeatureWindow
		}
		if cfg.MaxHistoricalDays <= 0 {
			cfg.MaxHistoricalDays = def.MaxHistoricalDays
		}
		if cfg.ModelTimeout <= 0 {
			cfg.ModelTimeout = def.ModelTimeout
		}
		if cfg.BatchConcurrency <= 0 {
			cfg.BatchConcurrency = def.BatchConcurrency
		}
		if cfg.MaxBatchSize <= 0 {
			cfg.MaxBatchSize = def.MaxBatchSize
		}
		if cfg.BackgroundTimeout <= 0 {
			cfg.BackgroundTimeout = def.BackgroundTimeout
		}
		e.cfg = cfg
	}
}

// WithResponseCache caches successful responses for cfg.CacheTTL.
func WithResponseCache(c cache.Service) EngineOption {
	return func(e *PredictionEngine) {
		e.responses = c
	}
}

func WithEngineEvents(p domrepo.EventPublisher) EngineOption {
	return func(e *PredictionEngine) {
		if p != nil {
			e.events = p
		}
	}
}

func WithEngineMetrics(m domrepo.Metrics) EngineOption {
	return func(e *PredictionEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithRetrainSubmitter enables background retraining of stale models after a prediction.
func WithRetrainSubmitter(s RetrainSubmitter) EngineOption {
	return func(e *PredictionEngine) {
		e.retrain = s
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *PredictionEngine) {
		e.now = now
	}
}

func NewPredictionEngine(registry *ModelRegistry, data domrepo.HistoricalDataProvider, engineer domsvc.FeatureEngineer, history *HistoryCache, l *logger.Logger, opts ...EngineOption) *PredictionEngine {
	if l == nil {
		l = logger.Nop()
	}
	e := &PredictionEngine{
		registry: registry,
		data:     data,
		engineer: engineer,
		history:  history,
		cfg:      DefaultEngineConfig(),
		events:   noopEvents{},
		metrics:  metrics.Noop{},
		l:        l,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Predict validates req and serves it. The error is non-nil only for a ValidationError;
// every later failure is reported inside the response metadata.
func (e *PredictionEngine) Predict(ctx context.Context, req models.PredictionRequest) (*models.PredictionResponse, error) {
	start := e.now()
	req, err := req.Normalize()
	if err != nil {
		e.metrics.RecordError("validation")
		return nil, err
	}

	key := e.cacheKey(req)
	if resp, ok := e.cached(ctx, key); ok {
		e.metrics.RecordPrediction(req.Symbol, string(req.EnsembleMethod), "cached")
		e.background(ctx, resp, nil)
		return resp, nil
	}

	resp, used := e.run(ctx, req, start)
	elapsed := float64(e.now().Sub(start).Microseconds()) / 1000
	resp.Metadata.ProcessingTimeMs = &elapsed
	e.metrics.RecordLatency("predict", elapsed/1000)

	outcome := "success"
	switch {
	case resp.Failed():
		outcome = "error"
	case len(resp.ModelPredictions) == 0:
		outcome = "no_models"
	}
	e.metrics.RecordPrediction(req.Symbol, string(req.EnsembleMethod), outcome)

	if !resp.Failed() && len(resp.ModelPredictions) > 0 && e.responses != nil && e.cfg.CacheTTL > 0 {
		if err := e.responses.Set(ctx, key, resp, e.cfg.CacheTTL); err != nil {
			e.l.Warn("failed to cache prediction", logger.String("symbol", req.Symbol), logger.Error(err))
		}
	}
	e.background(ctx, resp, used)
	return resp, nil
}

// run drives one validated request through resolve, features, fan-out and aggregate.
// It returns the records whose models produced a forecast.
func (e *PredictionEngine) run(ctx context.Context, req models.PredictionRequest, start time.Time) (*models.PredictionResponse, []*models.ModelRecord) {
	var filter models.ModelType
	if req.ModelType != nil {
		filter = *req.ModelType
	}
	recs := e.registry.Records(req.Symbol, filter)
	if len(recs) == 0 {
		return &models.PredictionResponse{
			Symbol:           req.Symbol,
			Horizon:          req.Horizon,
			ModelPredictions: []models.ModelPrediction{},
			Metadata: models.PredictionMetadata{
				GeneratedAt:    start.UTC(),
				EnsembleMethod: req.EnsembleMethod,
			},
		}, nil
	}

	table, dataPoints, err := e.features(ctx, req)
	if err != nil {
		e.l.Warn("failed to prepare features", logger.String("symbol", req.Symbol), logger.Error(err))
		e.metrics.RecordError(errorKind(err))
		resp := models.NewErrorResponse(req.Symbol, req.Horizon, err, start.UTC())
		resp.Metadata.DataPoints = dataPoints
		return resp, nil
	}

	preds, used, failures := e.fanOut(ctx, recs, table, req.Horizon)

	values, err := Aggregate(preds, req.EnsembleMethod)
	if err != nil {
		var empty *models.EmptyEnsembleError
		if errors.As(err, &empty) {
			err = &models.EmptyEnsembleError{Failed: len(failures)}
		}
		e.metrics.RecordError(errorKind(err))
		resp := models.NewErrorResponse(req.Symbol, req.Horizon, err, start.UTC())
		resp.Metadata.DataPoints = dataPoints
		resp.Metadata.FeatureCount = table.Width()
		resp.Metadata.ModelErrors = failures
		return resp, nil
	}

	score := ConfidenceScore(preds)
	resp := &models.PredictionResponse{
		Symbol:           req.Symbol,
		Horizon:          req.Horizon,
		Values:           values,
		ModelPredictions: preds,
		Metadata: models.PredictionMetadata{
			GeneratedAt:     start.UTC(),
			DataPoints:      dataPoints,
			FeatureCount:    table.Width(),
			ModelCount:      len(preds),
			ConfidenceScore: score,
			EnsembleMethod:  req.EnsembleMethod,
			LowConfidence:   score < req.ConfidenceThreshold,
		},
	}
	if len(failures) > 0 {
		resp.Metadata.ModelErrors = failures
	}
	return resp, used
}

// features fetches enough history for the feature window and the horizon and derives
// the dense feature table.
func (e *PredictionEngine) features(ctx context.Context, req models.PredictionRequest) (*models.Table, int, error) {
	daysBack := e.cfg.MinDataPoints + req.Horizon + e.cfg.FeatureWindow
	if daysBack > e.cfg.MaxHistoricalDays {
		daysBack = e.cfg.MaxHistoricalDays
	}
	raw, err := e.data.GetHistoricalData(ctx, req.Symbol, daysBack)
	if err != nil {
		return nil, 0, fmt.Errorf("historical data for %s: %w", req.Symbol, err)
	}
	n := raw.Len()
	if n == 0 || n < e.cfg.MinDataPoints {
		return nil, n, &models.InsufficientDataError{Symbol: req.Symbol, Got: n, Required: e.cfg.MinDataPoints}
	}
	table, err := e.engineer.GenerateFeatures(raw, req.FeatureConfig)
	if err != nil {
		return nil, n, fmt.Errorf("generate features for %s: %w", req.Symbol, err)
	}
	return table, n, nil
}

type modelOutcome struct {
	rec  *models.ModelRecord
	pred *models.ModelPrediction
	err  error
}

// fanOut runs one goroutine per model. Failures, timeouts and panics are recorded per
// model id and excluded from the result.
func (e *PredictionEngine) fanOut(ctx context.Context, recs []*models.ModelRecord, table *models.Table, horizon int) ([]models.ModelPrediction, []*models.ModelRecord, map[string]string) {
	ch := make(chan modelOutcome, len(recs))
	var wg sync.WaitGroup
	for _, rec := range recs {
		wg.Add(1)
		go func(rec *models.ModelRecord) {
			defer wg.Done()
			pred, err := e.predictOne(ctx, rec, table, horizon)
			ch <- modelOutcome{rec: rec, pred: pred, err: err}
		}(rec)
	}
	go func() { wg.Wait(); close(ch) }()

	preds := make([]models.ModelPrediction, 0, len(recs))
	used := make([]*models.ModelRecord, 0, len(recs))
	failures := map[string]string{}
	for out := range ch {
		if out.err != nil {
			failures[out.rec.ID] = out.err.Error()
			e.metrics.RecordModelPrediction(string(out.rec.Type), "error")
			e.l.Warn("model prediction failed",
				logger.String("model_id", out.rec.ID),
				logger.Error(out.err),
			)
			continue
		}
		e.metrics.RecordModelPrediction(string(out.rec.Type), "success")
		preds = append(preds, *out.pred)
		used = append(used, out.rec)
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i].ModelID < preds[j].ModelID })
	return preds, used, failures
}

// predictOne bounds a single model by the per-model timeout. A model that ignores its
// context is abandoned once the deadline passes.
func (e *PredictionEngine) predictOne(ctx context.Context, rec *models.ModelRecord, table *models.Table, horizon int) (*models.ModelPrediction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
	defer cancel()

	type result struct {
		pred *models.ModelPrediction
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("model panicked: %v", r)}
			}
		}()
		m, err := e.registry.Load(ctx, rec.ID)
		if err != nil {
			done <- result{err: err}
			return
		}
		prepared, missing := features.PrepareForModel(table, rec.FeatureColumns)
		pred, err := Predictor{ModelID: rec.ID, ModelType: rec.Type, Model: m}.Predict(ctx, prepared, horizon)
		if err != nil {
			done <- result{err: err}
			return
		}
		if len(missing) > 0 && len(rec.FeatureColumns) > 0 {
			pred.Confidence *= 1 - float64(len(missing))/float64(len(rec.FeatureColumns))
			pred.Metadata["missing_features"] = missing
		}
		done <- result{pred: pred}
	}()

	select {
	case r := <-done:
		return r.pred, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("model %s timed out after %s: %w", rec.ID, e.cfg.ModelTimeout, ctx.Err())
	}
}

// PredictBatch serves every request on a bounded pool. Each failure, including a
// validation error or a panic, becomes that request's error response; results keep
// input order.
func (e *PredictionEngine) PredictBatch(ctx context.Context, reqs []models.PredictionRequest) ([]*models.PredictionResponse, error) {
	if len(reqs) == 0 {
		return nil, models.NewValidationError("requests", "at least one request is required")
	}
	if len(reqs) > e.cfg.MaxBatchSize {
		return nil, models.NewValidationError("requests", fmt.Sprintf("batch size %d exceeds the limit of %d", len(reqs), e.cfg.MaxBatchSize))
	}

	out := make([]*models.PredictionResponse, len(reqs))
	sem := make(chan struct{}, e.cfg.BatchConcurrency)
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					e.l.Error("batch prediction panicked", logger.Int("index", i), logger.Any("panic", r))
					out[i] = models.NewErrorResponse(reqs[i].Symbol, reqs[i].Horizon, fmt.Errorf("internal error: %v", r), e.now().UTC())
				}
			}()
			resp, err := e.Predict(ctx, reqs[i])
			if err != nil {
				symbol := reqs[i].Symbol
				if sym, serr := models.NormalizeSymbol(symbol); serr == nil {
					symbol = sym
				}
				resp = models.NewErrorResponse(symbol, reqs[i].Horizon, err, e.now().UTC())
			}
			out[i] = resp
		}(i)
	}
	wg.Wait()
	return out, nil
}

// History returns the newest stored predictions for symbol.
func (e *PredictionEngine) History(ctx context.Context, symbol string, limit int) ([]models.HistoryEntry, error) {
	sym, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return e.history.Get(ctx, sym, limit)
}

// Performance summarises stored predictions for symbol over the last days days.
func (e *PredictionEngine) Performance(ctx context.Context, symbol string, days int) (*models.PerformanceSummary, error) {
	sym, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return e.history.Performance(ctx, sym, days)
}

// Wait blocks until background history writes and event publishes finish.
func (e *PredictionEngine) Wait() {
	e.bg.Wait()
}

// EngineHealth reports readiness of the engine and its registry.
type EngineHealth struct {
	Status   string         `json:"status"`
	Registry RegistryHealth `json:"registry"`
	History  string         `json:"history"`
}

func (e *PredictionEngine) Health(ctx context.Context) EngineHealth {
	h := EngineHealth{Status: "healthy", Registry: e.registry.Health(), History: "ok"}
	if _, err := e.history.Get(ctx, "HEALTHCHECK", 1); err != nil {
		h.History = err.Error()
		h.Status = "degraded"
	}
	return h
}

// background stores the response, publishes the event and queues retrains of stale
// models without delaying the caller.
func (e *PredictionEngine) background(ctx context.Context, resp *models.PredictionResponse, used []*models.ModelRecord) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.BackgroundTimeout)
		defer cancel()

		if _, err := e.history.Append(ctx, resp); err != nil {
			e.l.Warn("failed to store prediction history", logger.String("symbol", resp.Symbol), logger.Error(err))
		}
		if !resp.Failed() && len(resp.ModelPredictions) > 0 {
			evt := models.Event{
				Type:       models.EventPredictionCompleted,
				Symbol:     resp.Symbol,
				OccurredAt: e.now().UTC(),
				Payload: map[string]any{
					"horizon":          resp.Horizon,
					"values":           resp.Values,
					"confidence_score": resp.Metadata.ConfidenceScore,
					"model_count":      resp.Metadata.ModelCount,
				},
			}
			if err := e.events.Publish(ctx, evt); err != nil {
				e.l.Warn("failed to publish prediction event", logger.String("symbol", resp.Symbol), logger.Error(err))
			}
		}
		e.submitStale(ctx, used)
	}()
}

func (e *PredictionEngine) submitStale(ctx context.Context, used []*models.ModelRecord) {
	if e.retrain == nil || e.cfg.UpdateInterval <= 0 {
		return
	}
	now := e.now()
	for _, rec := range used {
		if now.Sub(rec.UpdatedAt) < e.cfg.UpdateInterval {
			continue
		}
		queued, err := e.retrain.Submit(ctx, rec.ID)
		if err != nil {
			e.l.Warn("failed to queue retrain", logger.String("model_id", rec.ID), logger.Error(err))
			continue
		}
		if queued {
			e.l.Debug("stale model queued for retrain", logger.String("model_id", rec.ID))
		}
	}
}

// cacheKey scopes entries by symbol and registry revision, so training, updating or
// deleting a model of the symbol makes older entries unreachable.
func (e *PredictionEngine) cacheKey(req models.PredictionRequest) string {
	var filter string
	if req.ModelType != nil {
		filter = string(*req.ModelType)
	}
	fc, _ := json.Marshal(req.FeatureConfig)
	raw := cache.GenerateKeyWithParams(req.Symbol, req.Horizon, filter, req.EnsembleMethod, req.ConfidenceThreshold, string(fc))
	return cache.GenerateKeyWithParams("predictions:result", req.Symbol, e.registry.Revision(req.Symbol), cache.HashKey(raw))
}

func (e *PredictionEngine) cached(ctx context.Context, key string) (*models.PredictionResponse, bool) {
	if e.responses == nil || e.cfg.CacheTTL <= 0 {
		return nil, false
	}
	var resp models.PredictionResponse
	if err := e.responses.Get(ctx, key, &resp); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			e.l.Warn("prediction cache read failed", logger.Error(err))
		}
		return nil, false
	}
	return &resp, true
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrModelNotFound):
		return "model_not_found"
	case errors.Is(err, models.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, models.ErrEmptyEnsemble):
		return "empty_ensemble"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "internal"
}
