package usecase

import (
	"context"
	"testing"

	"FinCast/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pred(id string, conf float64, values ...float64) models.ModelPrediction {
	return models.ModelPrediction{ModelID: id, Values: values, Confidence: conf}
}

func TestAggregateWeightedAverageConstantPath(t *testing.T) {
	preds := []models.ModelPrediction{
		pred("a", 0.9, 10, 10, 10),
		pred("b", 0.6, 10, 10, 10),
		pred("c", 0.3, 10, 10, 10),
	}
	out, err := Aggregate(preds, models.EnsembleWeightedAverage)
	require.NoError(t, err)
	for _, v := range out {
		assert.InDelta(t, 10.0, v, 1e-12)
	}
	assert.InDelta(t, 0.7, ConfidenceScore(preds), 1e-12)
}

func TestAggregateWeightedAverage(t *testing.T) {
	preds := []models.ModelPrediction{
		pred("a", 0.75, 4, 8),
		pred("b", 0.25, 8, 0),
	}
	out, err := Aggregate(preds, "")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{5, 6}, out, 1e-12)
}

func TestAggregateEqualWeightsMatchSimpleAverage(t *testing.T) {
	preds := []models.ModelPrediction{
		pred("a", 0.4, 0.1, 0.7, 1.3),
		pred("b", 0.4, 0.2, 0.9, 1.1),
		pred("c", 0.4, 0.3, 0.5, 1.7),
	}
	weighted, err := Aggregate(preds, models.EnsembleWeightedAverage)
	require.NoError(t, err)
	simple, err := Aggregate(preds, models.EnsembleSimpleAverage)
	require.NoError(t, err)
	assert.Equal(t, simple, weighted)

	for i := range preds {
		preds[i].Confidence = 0
	}
	zero, err := Aggregate(preds, models.EnsembleWeightedAverage)
	require.NoError(t, err)
	assert.Equal(t, simple, zero)
}

func TestAggregateMedian(t *testing.T) {
	odd := []models.ModelPrediction{pred("a", 1, 1, 9), pred("b", 1, 5, 2), pred("c", 1, 100, 3)}
	out, err := Aggregate(odd, models.EnsembleMedian)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 3}, out)

	even := []models.ModelPrediction{pred("a", 1, 1), pred("b", 1, 2), pred("c", 1, 4), pred("d", 1, 10)}
	out, err = Aggregate(even, models.EnsembleMedian)
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, out)
}

func TestAggregateVoting(t *testing.T) {
	preds := []models.ModelPrediction{
		pred("a", 1, 2, -1, 1),
		pred("b", 1, 4, -3, -1),
		pred("c", 1, -1, 5, 0),
	}
	out, err := Aggregate(preds, models.EnsembleVoting)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, out[0], 1e-12, "two positives agree")
	assert.InDelta(t, -2.0, out[1], 1e-12, "two negatives agree")
	assert.Equal(t, 0.0, out[2], "three-way tie")
}

func TestAggregateErrors(t *testing.T) {
	_, err := Aggregate(nil, models.EnsembleSimpleAverage)
	assert.ErrorIs(t, err, models.ErrEmptyEnsemble)

	_, err = Aggregate([]models.ModelPrediction{pred("a", 1, 1, 2), pred("b", 1, 1)}, models.EnsembleMedian)
	assert.Error(t, err)

	_, err = Aggregate([]models.ModelPrediction{pred("a", 1, 1)}, models.EnsembleMethod("bagging"))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestConfidenceScore(t *testing.T) {
	assert.Equal(t, 0.0, ConfidenceScore(nil))
	assert.Equal(t, 0.0, ConfidenceScore([]models.ModelPrediction{pred("a", 0, 1)}))

	one := ConfidenceScore([]models.ModelPrediction{pred("a", 0.9, 1)})
	assert.InDelta(t, 0.3, one, 1e-12)

	// adding a model with equal confidence never lowers the score
	prev := 0.0
	preds := []models.ModelPrediction{}
	for i := 0; i < 5; i++ {
		preds = append(preds, pred("m", 0.8, 1))
		score := ConfidenceScore(preds)
		assert.GreaterOrEqual(t, score, prev)
		assert.LessOrEqual(t, score, 1.0)
		prev = score
	}
	assert.InDelta(t, 0.8, prev, 1e-12)
}

func TestDispersionConfidence(t *testing.T) {
	assert.Equal(t, 0.0, DispersionConfidence(nil))
	assert.Equal(t, 0.5, DispersionConfidence([]float64{42}))
	assert.InDelta(t, 1.0, DispersionConfidence([]float64{3, 3, 3}), 1e-6)
	assert.InDelta(t, 0.0, DispersionConfidence([]float64{-5, 5}), 1e-6)

	c := DispersionConfidence([]float64{9, 10, 11})
	assert.Greater(t, c, 0.9)
	assert.Less(t, c, 1.0)
}

func TestPredictorFallsBackToDispersion(t *testing.T) {
	ctx := context.Background()
	p := Predictor{ModelID: "m1", ModelType: models.ModelTypeRandomForest, Model: &plainModel{Values: []float64{10, 10}}}
	got, err := p.Predict(ctx, priceTable(5), 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Confidence, 1e-6)
	assert.Equal(t, false, got.Metadata["native_confidence"])

	_, err = p.Predict(ctx, priceTable(5), 3)
	assert.Error(t, err, "short output")

	native := Predictor{ModelID: "m2", ModelType: models.ModelTypeLSTM, Model: &stubModel{Kind: models.ModelTypeLSTM, Value: 1, Conf: 1.7}}
	got, err = native.Predict(ctx, priceTable(5), 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Confidence, "clamped")
	assert.Equal(t, true, got.Metadata["native_confidence"])
}
