package usecase

import (
	"context"
	"fmt"
	"math"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

const (
	// singleValueConfidence is used when a one-step forecast gives no dispersion to measure.
	singleValueConfidence = 0.5
	epsilon               = 1e-8
)

// Predictor adapts a loaded model to a uniform (values, confidence) contract.
type Predictor struct {
	ModelID   string
	ModelType models.ModelType
	Model     domsvc.Model
}

// Predict runs the model and validates its output. Models that score their own forecast
// supply the confidence; others fall back to the dispersion of the predicted path.
func (p Predictor) Predict(ctx context.Context, features *models.Table, horizon int) (*models.ModelPrediction, error) {
	var (
		values     []float64
		confidence float64
		native     bool
		err        error
	)
	if cf, ok := p.Model.(domsvc.ConfidenceForecaster); ok {
		values, confidence, err = cf.PredictConfidence(ctx, features, horizon)
		native = true
	} else {
		values, err = p.Model.Predict(ctx, features, horizon)
	}
	if err != nil {
		return nil, err
	}
	if len(values) != horizon {
		return nil, fmt.Errorf("model returned %d values, want %d", len(values), horizon)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("model returned non-finite value at step %d", i+1)
		}
	}
	if !native || math.IsNaN(confidence) {
		confidence = DispersionConfidence(values)
		native = false
	}

	return &models.ModelPrediction{
		ModelID:    p.ModelID,
		ModelType:  p.ModelType,
		Values:     values,
		Confidence: clampUnit(confidence),
		Metadata:   map[string]any{"native_confidence": native},
	}, nil
}

// DispersionConfidence is 1 - std/(mean|v|+eps), clamped to [0,1]. A single value scores 0.5.
func DispersionConfidence(values []float64) float64 {
	switch len(values) {
	case 0:
		return 0
	case 1:
		return singleValueConfidence
	}
	var sum, sumAbs float64
	for _, v := range values {
		sum += v
		sumAbs += math.Abs(v)
	}
	n := float64(len(values))
	avg := sum / n
	var ss float64
	for _, v := range values {
		d := v - avg
		ss += d * d
	}
	std := math.Sqrt(ss / n)
	return clampUnit(1 - std/(sumAbs/n+epsilon))
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
