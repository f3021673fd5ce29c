package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

// splitIndex returns the first row of the held-out tail for a chronological split.
func splitIndex(n int, trainFraction float64) int {
	cut := int(math.Floor(float64(n) * trainFraction))
	if cut < 1 {
		cut = 1
	}
	if cut > n-1 {
		cut = n - 1
	}
	return cut
}

// walkForward predicts every row from cut onwards one step ahead, feeding the model all
// rows before it, and scores the forecasts against the target column.
func walkForward(ctx context.Context, m domsvc.Model, data *models.Table, target string, cut int, at time.Time) (models.ModelMetrics, error) {
	actualAll, ok := data.Column(target)
	if !ok {
		return models.ModelMetrics{}, fmt.Errorf("target column %q not found", target)
	}
	n := data.Len()
	actual := make([]float64, 0, n-cut)
	predicted := make([]float64, 0, n-cut)
	for i := cut; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return models.ModelMetrics{}, err
		}
		out, err := m.Predict(ctx, data.Slice(0, i), 1)
		if err != nil {
			return models.ModelMetrics{}, fmt.Errorf("evaluate row %d: %w", i, err)
		}
		if len(out) != 1 {
			return models.ModelMetrics{}, fmt.Errorf("evaluate row %d: got %d values, want 1", i, len(out))
		}
		actual = append(actual, actualAll[i])
		predicted = append(predicted, out[0])
	}
	return Evaluate(actual, predicted, at), nil
}

// Evaluate scores predicted against actual. Directional accuracy compares the signs of
// period-over-period changes, not raw levels.
func Evaluate(actual, predicted []float64, at time.Time) models.ModelMetrics {
	n := len(actual)
	if len(predicted) < n {
		n = len(predicted)
	}
	out := models.ModelMetrics{DataPoints: n, EvaluatedAt: at}
	if n == 0 {
		return out
	}

	var sse, sae, sum float64
	for i := 0; i < n; i++ {
		e := actual[i] - predicted[i]
		sse += e * e
		sae += math.Abs(e)
		sum += actual[i]
	}
	out.RMSE = math.Sqrt(sse / float64(n))
	out.MAE = sae / float64(n)

	avg := sum / float64(n)
	var sst float64
	for i := 0; i < n; i++ {
		d := actual[i] - avg
		sst += d * d
	}
	if sst > 0 {
		out.R2 = 1 - sse/sst
	}

	if n > 1 {
		agree := 0
		for i := 1; i < n; i++ {
			if (actual[i]-actual[i-1] > 0) == (predicted[i]-predicted[i-1] > 0) {
				agree++
			}
		}
		out.DirectionalAccuracy = float64(agree) / float64(n-1)
	}
	return out
}
