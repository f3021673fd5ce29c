package models

import (
	"fmt"
	"strings"
	"time"
)

// EnsembleMethod selects how per-model predictions are merged.
type EnsembleMethod string

const (
	EnsembleSimpleAverage   EnsembleMethod = "simple_average"
	EnsembleWeightedAverage EnsembleMethod = "weighted_average"
	EnsembleMedian          EnsembleMethod = "median"
	EnsembleVoting          EnsembleMethod = "voting"
)

// ParseEnsembleMethod maps "" to weighted_average and rejects unknown names.
func ParseEnsembleMethod(s string) (EnsembleMethod, error) {
	m := EnsembleMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case "":
		return EnsembleWeightedAverage, nil
	case EnsembleSimpleAverage, EnsembleWeightedAverage, EnsembleMedian, EnsembleVoting:
		return m, nil
	}
	return "", NewValidationError("ensemble_method", fmt.Sprintf("unknown ensemble method %q", s))
}

const (
	MinHorizon                 = 1
	MaxHorizon                 = 252
	DefaultConfidenceThreshold = 0.5
)

type PredictionRequest struct {
	Symbol              string         `json:"symbol"`
	Horizon             int            `json:"horizon"`
	ModelType           *ModelType     `json:"model_type,omitempty"`
	EnsembleMethod      EnsembleMethod `json:"ensemble_method"`
	FeatureConfig       map[string]any `json:"feature_config,omitempty"`
	ConfidenceThreshold float64        `json:"confidence_threshold"`
}

// Normalize validates the request and returns a canonical copy.
func (r PredictionRequest) Normalize() (PredictionRequest, error) {
	sym, err := NormalizeSymbol(r.Symbol)
	if err != nil {
		return r, err
	}
	if r.Horizon < MinHorizon || r.Horizon > MaxHorizon {
		return r, NewValidationError("horizon", fmt.Sprintf("horizon must be between %d and %d", MinHorizon, MaxHorizon))
	}
	method, err := ParseEnsembleMethod(string(r.EnsembleMethod))
	if err != nil {
		return r, err
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return r, NewValidationError("confidence_threshold", "confidence_threshold must be between 0 and 1")
	}
	out := r
	out.Symbol = sym
	out.EnsembleMethod = method
	if r.ModelType != nil {
		t, err := ParseModelType(string(*r.ModelType))
		if err != nil {
			return r, err
		}
		out.ModelType = &t
	}
	return out, nil
}

// ModelPrediction is one model's contribution to an ensemble.
type ModelPrediction struct {
	ModelID    string         `json:"model_id"`
	ModelType  ModelType      `json:"model_type"`
	Values     []float64      `json:"values"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type PredictionMetadata struct {
	GeneratedAt      time.Time         `json:"generated_at"`
	DataPoints       int               `json:"data_points"`
	FeatureCount     int               `json:"feature_count"`
	ModelCount       int               `json:"model_count"`
	ConfidenceScore  float64           `json:"confidence_score"`
	EnsembleMethod   EnsembleMethod    `json:"ensemble_method,omitempty"`
	LowConfidence    bool              `json:"low_confidence,omitempty"`
	Error            *string           `json:"error,omitempty"`
	ProcessingTimeMs *float64          `json:"processing_time_ms,omitempty"`
	ModelErrors      map[string]string `json:"model_errors,omitempty"`
}

// PredictionResponse carries either ensemble values or an error in its metadata.
type PredictionResponse struct {
	Symbol           string             `json:"symbol"`
	Horizon          int                `json:"horizon"`
	Values           []float64          `json:"values"`
	ModelPredictions []ModelPrediction  `json:"model_predictions"`
	Metadata         PredictionMetadata `json:"metadata"`
}

// Failed reports whether the response carries an error instead of values.
func (r *PredictionResponse) Failed() bool {
	return r.Metadata.Error != nil
}

// NewErrorResponse builds an error-carrying response.
func NewErrorResponse(symbol string, horizon int, err error, at time.Time) *PredictionResponse {
	msg := err.Error()
	return &PredictionResponse{
		Symbol:           symbol,
		Horizon:          horizon,
		ModelPredictions: []ModelPrediction{},
		Metadata: PredictionMetadata{
			GeneratedAt: at,
			Error:       &msg,
		},
	}
}

// PerformanceSummary aggregates stored history for one symbol.
type PerformanceSummary struct {
	Symbol                string  `json:"symbol"`
	AnalysisPeriodDays    int     `json:"analysis_period_days"`
	TotalPredictions      int     `json:"total_predictions"`
	SuccessfulPredictions int     `json:"successful_predictions"`
	SuccessRate           float64 `json:"success_rate"`
	AverageConfidence     float64 `json:"average_confidence"`
}
