package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePredictionRequestThreshold(t *testing.T) {
	zero, high := 0.0, 0.9

	req := CreatePredictionRequest{Symbol: "AAPL", Horizon: 1}.ToDomain()
	assert.Equal(t, DefaultConfidenceThreshold, req.ConfidenceThreshold)

	req = CreatePredictionRequest{Symbol: "AAPL", Horizon: 1, ConfidenceThreshold: &zero}.ToDomain()
	assert.Zero(t, req.ConfidenceThreshold, "explicit 0 is kept")

	req = CreatePredictionRequest{Symbol: "AAPL", Horizon: 1, ConfidenceThreshold: &high}.ToDomain()
	assert.Equal(t, 0.9, req.ConfidenceThreshold)
}

func TestCreatePredictionRequestModelType(t *testing.T) {
	req := CreatePredictionRequest{Symbol: "AAPL", Horizon: 1}.ToDomain()
	assert.Nil(t, req.ModelType)

	req = CreatePredictionRequest{Symbol: "AAPL", Horizon: 1, ModelType: "arima"}.ToDomain()
	require.NotNil(t, req.ModelType)
	assert.Equal(t, ModelTypeARIMA, *req.ModelType)
}
