package models

import (
	"fmt"
	"strings"
	"time"
)

// ModelType names a model family known to the factory.
type ModelType string

const (
	ModelTypeLinear       ModelType = "linear"
	ModelTypeARIMA        ModelType = "arima"
	ModelTypeGARCH        ModelType = "garch"
	ModelTypeRandomForest ModelType = "random_forest"
	ModelTypeXGBoost      ModelType = "xgboost"
	ModelTypeLSTM         ModelType = "lstm"
	ModelTypeRemote       ModelType = "remote"
)

// AllModelTypes lists every family in a stable order.
func AllModelTypes() []ModelType {
	return []ModelType{
		ModelTypeLinear, ModelTypeARIMA, ModelTypeGARCH,
		ModelTypeRandomForest, ModelTypeXGBoost, ModelTypeLSTM, ModelTypeRemote,
	}
}

// ParseModelType normalizes s and rejects unknown families.
func ParseModelType(s string) (ModelType, error) {
	t := ModelType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllModelTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", NewValidationError("model_type", fmt.Sprintf("unknown model type %q", s))
}

type ModelStatus string

const (
	StatusTrained ModelStatus = "trained"
	StatusUpdated ModelStatus = "updated"
	StatusFailed  ModelStatus = "failed"
)

// ModelMetrics is an immutable evaluation snapshot; updates replace it.
type ModelMetrics struct {
	RMSE                float64   `json:"rmse"`
	MAE                 float64   `json:"mae"`
	R2                  float64   `json:"r2"`
	DirectionalAccuracy float64   `json:"directional_accuracy"`
	DataPoints          int       `json:"data_points"`
	EvaluatedAt         time.Time `json:"evaluated_at"`
}

// ModelRecord is the persisted description of one trained model.
type ModelRecord struct {
	ID                      string         `json:"id"`
	Symbol                  string         `json:"symbol"`
	Type                    ModelType      `json:"model_type"`
	Status                  ModelStatus    `json:"status"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
	TrainingDurationSeconds float64        `json:"training_duration_seconds"`
	Metrics                 ModelMetrics   `json:"metrics"`
	ArtifactLocation        string         `json:"artifact_location"`
	FeatureColumns          []string       `json:"feature_columns"`
	Config                  map[string]any `json:"config,omitempty"`
	LastError               string         `json:"last_error,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with the registry index.
func (r *ModelRecord) Clone() *ModelRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.FeatureColumns = append([]string(nil), r.FeatureColumns...)
	if r.Config != nil {
		out.Config = make(map[string]any, len(r.Config))
		for k, v := range r.Config {
			out.Config[k] = v
		}
	}
	return &out
}

// Summary projects the record into its listing view.
func (r *ModelRecord) Summary() ModelSummary {
	return ModelSummary{
		ID:             r.ID,
		Symbol:         r.Symbol,
		Type:           r.Type,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		Metrics:        r.Metrics,
		FeatureColumns: append([]string(nil), r.FeatureColumns...),
	}
}

// ModelSummary is what listAvailable returns.
type ModelSummary struct {
	ID             string       `json:"id"`
	Symbol         string       `json:"symbol"`
	Type           ModelType    `json:"model_type"`
	Status         ModelStatus  `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Metrics        ModelMetrics `json:"metrics"`
	FeatureColumns []string     `json:"feature_columns"`
}

// ModelID builds "{SYMBOL}_{type}_{YYYYMMDD_HHMMSS}".
func ModelID(symbol string, t ModelType, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", symbol, t, at.UTC().Format("20060102_150405"))
}

// NormalizeSymbol trims and upper-cases a ticker and checks its shape.
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" {
		return "", NewValidationError("symbol", "symbol is required")
	}
	if len(sym) > 10 {
		return "", NewValidationError("symbol", "symbol must be at most 10 characters")
	}
	for _, r := range sym {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-') {
			return "", NewValidationError("symbol", fmt.Sprintf("invalid character %q in symbol", r))
		}
	}
	return sym, nil
}

// ConfigString reads a string parameter from an opaque model config.
func ConfigString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ConfigFloat reads a numeric parameter; JSON numbers arrive as float64.
func ConfigFloat(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// ConfigInt reads an integer parameter.
func ConfigInt(cfg map[string]any, key string, def int) int {
	return int(ConfigFloat(cfg, key, float64(def)))
}

// ConfigBool reads a boolean parameter.
func ConfigBool(cfg map[string]any, key string, def bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return def
}

// MergeConfig overlays patch onto base into a fresh map.
func MergeConfig(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
