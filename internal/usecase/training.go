package usecase

import (
	"context"
	"fmt"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	domsvc "FinCast/internal/domain/service"
	"FinCast/pkg/logger"
)

// warmupReporter is implemented by feature engineers whose leading rows are incomplete.
type warmupReporter interface {
	Warmup(cfg map[string]any) int
}

// TrainingService fetches history, derives features and hands the table to the registry.
// Model config may carry a nested "features" map that configures the feature engineer.
type TrainingService struct {
	registry    *ModelRegistry
	data        domrepo.HistoricalDataProvider
	engineer    domsvc.FeatureEngineer
	defaultDays int
	maxDays     int
	l           *logger.Logger
}

func NewTrainingService(registry *ModelRegistry, data domrepo.HistoricalDataProvider, engineer domsvc.FeatureEngineer, defaultDays, maxDays int, l *logger.Logger) *TrainingService {
	if l == nil {
		l = logger.Nop()
	}
	if maxDays <= 0 {
		maxDays = 2520
	}
	if defaultDays <= 0 || defaultDays > maxDays {
		defaultDays = maxDays
	}
	return &TrainingService{
		registry:    registry,
		data:        data,
		engineer:    engineer,
		defaultDays: defaultDays,
		maxDays:     maxDays,
		l:           l,
	}
}

// Train builds a training table for symbol and trains a new model on it.
func (s *TrainingService) Train(ctx context.Context, symbol string, t models.ModelType, daysBack int, cfg map[string]any) (*models.ModelRecord, error) {
	sym, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	t, err = models.ParseModelType(string(t))
	if err != nil {
		return nil, err
	}
	table, err := s.trainingTable(ctx, sym, daysBack, cfg)
	if err != nil {
		return nil, err
	}
	return s.registry.Train(ctx, sym, t, table, cfg)
}

// Retrain refreshes model id on the latest history.
func (s *TrainingService) Retrain(ctx context.Context, id string, daysBack int, cfg map[string]any) (*models.ModelRecord, error) {
	rec, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	table, err := s.trainingTable(ctx, rec.Symbol, daysBack, models.MergeConfig(rec.Config, cfg))
	if err != nil {
		return nil, err
	}
	return s.registry.Update(ctx, id, table, cfg)
}

func (s *TrainingService) trainingTable(ctx context.Context, symbol string, daysBack int, cfg map[string]any) (*models.Table, error) {
	if daysBack <= 0 {
		daysBack = s.defaultDays
	}
	if daysBack > s.maxDays {
		daysBack = s.maxDays
	}
	raw, err := s.data.GetHistoricalData(ctx, symbol, daysBack)
	if err != nil {
		return nil, fmt.Errorf("historical data for %s: %w", symbol, err)
	}
	need := s.registry.MinDataPoints()
	if raw.Len() < need {
		return nil, &models.InsufficientDataError{Symbol: symbol, Got: raw.Len(), Required: need}
	}

	featureCfg, _ := cfg["features"].(map[string]any)
	table, err := s.engineer.GenerateFeatures(raw, featureCfg)
	if err != nil {
		return nil, fmt.Errorf("generate features for %s: %w", symbol, err)
	}
	if w, ok := s.engineer.(warmupReporter); ok {
		if skip := w.Warmup(featureCfg); skip > 0 && table.Len()-skip >= need {
			table = table.Slice(skip, table.Len())
		}
	}
	s.l.Debug("training table built",
		logger.String("symbol", symbol),
		logger.Int("rows", table.Len()),
		logger.Int("columns", table.Width()),
	)
	return table, nil
}
