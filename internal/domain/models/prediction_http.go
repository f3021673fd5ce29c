package models

// Requests for the prediction and model HTTP endpoints. Defined in domain for consistency and reuse.

type CreatePredictionRequest struct {
	Symbol              string         `json:"symbol" validate:"required,min=1,max=10"`
	Horizon             int            `json:"horizon" validate:"required,gte=1,lte=252"`
	ModelType           string         `json:"model_type" validate:"omitempty,oneof=linear arima garch random_forest xgboost lstm remote"`
	EnsembleMethod      string         `json:"ensemble_method" default:"weighted_average" validate:"oneof=simple_average weighted_average median voting"`
	FeatureConfig       map[string]any `json:"feature_config"`
	ConfidenceThreshold *float64       `json:"confidence_threshold" validate:"omitempty,gte=0,lte=1"`
}

// ToDomain converts the transport shape into a PredictionRequest. An absent threshold
// means DefaultConfidenceThreshold; an explicit 0 is kept.
func (r CreatePredictionRequest) ToDomain() PredictionRequest {
	req := PredictionRequest{
		Symbol:              r.Symbol,
		Horizon:             r.Horizon,
		EnsembleMethod:      EnsembleMethod(r.EnsembleMethod),
		FeatureConfig:       r.FeatureConfig,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
	if r.ConfidenceThreshold != nil {
		req.ConfidenceThreshold = *r.ConfidenceThreshold
	}
	if r.ModelType != "" {
		t := ModelType(r.ModelType)
		req.ModelType = &t
	}
	return req
}

// BatchPredictionRequest items are validated one by one so a bad item fails alone.
type BatchPredictionRequest struct {
	Requests []CreatePredictionRequest `json:"requests" validate:"required,min=1,max=100"`
}

type TrainModelRequest struct {
	Symbol    string         `json:"symbol" validate:"required,min=1,max=10"`
	ModelType string         `json:"model_type" validate:"required,oneof=linear arima garch random_forest xgboost lstm remote"`
	DaysBack  int            `json:"days_back" default:"756" validate:"gte=1,lte=2520"`
	Config    map[string]any `json:"config"`
}

// RetrainModelRequest with Async set queues the retrain instead of running it inline.
type RetrainModelRequest struct {
	ID       string         `param:"id" validate:"required"`
	DaysBack int            `json:"days_back" validate:"gte=0,lte=2520"`
	Config   map[string]any `json:"config"`
	Async    bool           `json:"async"`
}

type CleanupModelsRequest struct {
	DaysOld int `json:"days_old" default:"30" validate:"gte=1,lte=3650"`
}

type ListModelsRequest struct {
	Symbol    string `query:"symbol" validate:"omitempty,max=10"`
	ModelType string `query:"type" validate:"omitempty,oneof=linear arima garch random_forest xgboost lstm remote"`
}

type HistoryRequest struct {
	Symbol string `param:"symbol" validate:"required,min=1,max=10"`
	Limit  int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type PerformanceRequest struct {
	Symbol string `param:"symbol" validate:"required,min=1,max=10"`
	Days   int    `query:"days" default:"7" validate:"gte=1,lte=365"`
}
