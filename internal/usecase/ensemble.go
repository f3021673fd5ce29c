package usecase

import (
	"fmt"
	"math"
	"sort"

	"FinCast/internal/domain/models"
)

// Aggregate merges per-model forecasts index by index.
func Aggregate(preds []models.ModelPrediction, method models.EnsembleMethod) ([]float64, error) {
	if len(preds) == 0 {
		return nil, &models.EmptyEnsembleError{}
	}
	horizon := len(preds[0].Values)
	for _, p := range preds[1:] {
		if len(p.Values) != horizon {
			return nil, fmt.Errorf("ensemble: model %s has %d values, want %d", p.ModelID, len(p.Values), horizon)
		}
	}

	switch method {
	case models.EnsembleSimpleAverage:
		return simpleAverage(preds, horizon), nil
	case models.EnsembleWeightedAverage, "":
		return weightedAverage(preds, horizon), nil
	case models.EnsembleMedian:
		return median(preds, horizon), nil
	case models.EnsembleVoting:
		return vote(preds, horizon), nil
	}
	return nil, models.NewValidationError("ensemble_method", fmt.Sprintf("unknown ensemble method %q", method))
}

func simpleAverage(preds []models.ModelPrediction, horizon int) []float64 {
	out := make([]float64, horizon)
	n := float64(len(preds))
	for i := range out {
		var sum float64
		for _, p := range preds {
			sum += p.Values[i]
		}
		out[i] = sum / n
	}
	return out
}

// weightedAverage takes the simple-average path when weights are all equal or sum to
// zero, so equal confidences give bit-identical results.
func weightedAverage(preds []models.ModelPrediction, horizon int) []float64 {
	var total float64
	equal := true
	for _, p := range preds {
		total += p.Confidence
		if p.Confidence != preds[0].Confidence {
			equal = false
		}
	}
	if equal || total <= 0 {
		return simpleAverage(preds, horizon)
	}
	out := make([]float64, horizon)
	for i := range out {
		var sum float64
		for _, p := range preds {
			sum += p.Values[i] * p.Confidence
		}
		out[i] = sum / total
	}
	return out
}

func median(preds []models.ModelPrediction, horizon int) []float64 {
	out := make([]float64, horizon)
	col := make([]float64, len(preds))
	for i := range out {
		for j, p := range preds {
			col[j] = p.Values[i]
		}
		sort.Float64s(col)
		mid := len(col) / 2
		if len(col)%2 == 1 {
			out[i] = col[mid]
		} else {
			out[i] = (col[mid-1] + col[mid]) / 2
		}
	}
	return out
}

// vote picks the strictly most common sign per index. Ties, including a tie with
// zero, yield 0. The magnitude is the mean absolute value of the agreeing models.
func vote(preds []models.ModelPrediction, horizon int) []float64 {
	out := make([]float64, horizon)
	for i := range out {
		var pos, neg, zero int
		var posMag, negMag float64
		for _, p := range preds {
			v := p.Values[i]
			switch {
			case v > 0:
				pos++
				posMag += v
			case v < 0:
				neg++
				negMag += -v
			default:
				zero++
			}
		}
		switch {
		case pos > neg && pos > zero:
			out[i] = posMag / float64(pos)
		case neg > pos && neg > zero:
			out[i] = -negMag / float64(neg)
		}
	}
	return out
}

// ConfidenceScore is sum(c^2)/sum(c) scaled by min(1, n/3), so a single model never
// reaches full confidence.
func ConfidenceScore(preds []models.ModelPrediction) float64 {
	if len(preds) == 0 {
		return 0
	}
	var sum, sumSq float64
	for _, p := range preds {
		sum += p.Confidence
		sumSq += p.Confidence * p.Confidence
	}
	if sum <= 0 {
		return 0
	}
	scale := math.Min(1, float64(len(preds))/3)
	return clampUnit(sumSq / sum * scale)
}
