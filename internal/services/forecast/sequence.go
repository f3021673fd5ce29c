package forecast

import (
	"context"
	"fmt"
	"math"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

// Sequence is a recurrent damped-trend smoother over the target. Its hidden state
// (level and trend) is carried step by step through the series; the gates alpha, beta
// and phi are fit by minimizing one-step squared error.
type Sequence struct {
	Target       string  `json:"target"`
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
	Phi          float64 `json:"phi"`
	ResidualStd  float64 `json:"residual_std"`
	Observations int     `json:"observations"`
}

func NewSequence(cfg map[string]any) *Sequence {
	return &Sequence{Target: targetOf(cfg)}
}

func (m *Sequence) Type() models.ModelType { return models.ModelTypeLSTM }

func (m *Sequence) Fit(ctx context.Context, data *models.Table) error {
	y, err := targetSeries(data, m.Target)
	if err != nil {
		return err
	}
	if len(y) < 4 {
		return fmt.Errorf("lstm: need at least 4 rows, got %d", len(y))
	}
	alphas := grid(0.05, 0.95, 0.05)
	betas := grid(0.01, 0.30, 0.01)
	phis := []float64{0.8, 0.85, 0.9, 0.95, 0.98, 1}
	return m.search(ctx, y, alphas, betas, phis)
}

// Update searches a narrow neighbourhood of the current gates on the new data.
func (m *Sequence) Update(ctx context.Context, data *models.Table) error {
	if m.Observations == 0 {
		return m.Fit(ctx, data)
	}
	y, err := targetSeries(data, m.Target)
	if err != nil {
		return err
	}
	if len(y) < 4 {
		return fmt.Errorf("lstm: need at least 4 rows, got %d", len(y))
	}
	prev := m.Observations
	alphas := grid(math.Max(0.01, m.Alpha-0.1), math.Min(0.99, m.Alpha+0.1), 0.02)
	betas := grid(math.Max(0.005, m.Beta-0.05), math.Min(0.5, m.Beta+0.05), 0.005)
	phis := []float64{math.Max(0.5, m.Phi-0.05), m.Phi, math.Min(1, m.Phi+0.02)}
	if err := m.search(ctx, y, alphas, betas, phis); err != nil {
		return err
	}
	m.Observations += prev
	return nil
}

func (m *Sequence) search(ctx context.Context, y, alphas, betas, phis []float64) error {
	bestSSE := math.Inf(1)
	var best Sequence
	for _, a := range alphas {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, b := range betas {
			for _, phi := range phis {
				sse, _, _ := smooth(y, a, b, phi)
				if sse < bestSSE {
					bestSSE = sse
					best = Sequence{Alpha: a, Beta: b, Phi: phi}
				}
			}
		}
	}
	if math.IsInf(bestSSE, 1) {
		return fmt.Errorf("lstm: no finite fit")
	}
	m.Alpha, m.Beta, m.Phi = best.Alpha, best.Beta, best.Phi
	m.ResidualStd = math.Sqrt(bestSSE / float64(len(y)-1))
	m.Observations = len(y)
	return nil
}

// smooth runs the recurrence over y and returns the one-step SSE and the final state.
func smooth(y []float64, alpha, beta, phi float64) (sse, level, trend float64) {
	level = y[0]
	if len(y) > 1 {
		trend = y[1] - y[0]
	}
	for t := 1; t < len(y); t++ {
		forecast := level + phi*trend
		e := y[t] - forecast
		sse += e * e
		prevLevel := level
		level = forecast + alpha*e
		trend = beta*(level-prevLevel) + (1-beta)*phi*trend
	}
	if !finite(sse, level, trend) {
		return math.Inf(1), 0, 0
	}
	return sse, level, trend
}

func grid(lo, hi, step float64) []float64 {
	var out []float64
	for v := lo; v <= hi+1e-9; v += step {
		out = append(out, math.Round(v*1e6)/1e6)
	}
	return out
}

func (m *Sequence) Predict(ctx context.Context, features *models.Table, horizon int) ([]float64, error) {
	values, _, err := m.PredictConfidence(ctx, features, horizon)
	return values, err
}

func (m *Sequence) PredictConfidence(_ context.Context, features *models.Table, horizon int) ([]float64, float64, error) {
	if m.Observations == 0 {
		return nil, 0, errNotFitted
	}
	if err := checkHorizon(horizon); err != nil {
		return nil, 0, err
	}
	y, err := targetSeries(features, m.Target)
	if err != nil {
		return nil, 0, err
	}

	_, level, trend := smooth(y, m.Alpha, m.Beta, m.Phi)
	values := make([]float64, horizon)
	damp := 0.0
	pow := 1.0
	for k := 0; k < horizon; k++ {
		pow *= m.Phi
		damp += pow
		values[k] = level + damp*trend
	}
	spread := m.ResidualStd * math.Sqrt(float64(horizon))
	return values, relativeConfidence(spread, mean(values)), nil
}

var (
	_ domsvc.Model                = (*Sequence)(nil)
	_ domsvc.ConfidenceForecaster = (*Sequence)(nil)
)
