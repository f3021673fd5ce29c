package service

import (
	"context"

	"FinCast/internal/domain/models"
)

// Model is the capability every model family implements. Instances are shared between
// concurrent predictions once trained; Fit and Update are only called on instances not
// yet visible to readers.
type Model interface {
	Type() models.ModelType
	// Fit trains from scratch on a dense table ordered oldest first.
	Fit(ctx context.Context, data *models.Table) error
	// Update continues training on new rows.
	Update(ctx context.Context, data *models.Table) error
	// Predict returns exactly horizon values following the last row of features.
	Predict(ctx context.Context, features *models.Table, horizon int) ([]float64, error)
}

// ConfidenceForecaster is implemented by families that can score their own forecast.
type ConfidenceForecaster interface {
	PredictConfidence(ctx context.Context, features *models.Table, horizon int) ([]float64, float64, error)
}

// FeatureEngineer derives model inputs from raw OHLCV history.
type FeatureEngineer interface {
	GenerateFeatures(data *models.Table, cfg map[string]any) (*models.Table, error)
}

// ModelFactory creates model instances by family and converts them to and from artifacts.
type ModelFactory interface {
	Create(t models.ModelType, cfg map[string]any) (Model, error)
	Supports(t models.ModelType) bool
	Types() []models.ModelType
	Marshal(m Model) ([]byte, error)
	Unmarshal(b []byte) (Model, error)
	Clone(m Model) (Model, error)
}
