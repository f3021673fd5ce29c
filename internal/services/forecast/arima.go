package forecast

import (
	"context"
	"fmt"
	"math"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"

	"github.com/sajari/regression"
)

// Autoregressive is an AR(p) model on first differences of the target, i.e. ARIMA(p,1,0).
type Autoregressive struct {
	Target       string    `json:"target"`
	Order        int       `json:"order"`
	Intercept    float64   `json:"intercept"`
	Phi          []float64 `json:"phi"`
	ResidualStd  float64   `json:"residual_std"`
	Observations int       `json:"observations"`
}

func NewAutoregressive(cfg map[string]any) *Autoregressive {
	return &Autoregressive{
		Target: targetOf(cfg),
		Order:  models.ConfigInt(cfg, "p", 5),
	}
}

func (m *Autoregressive) Type() models.ModelType { return models.ModelTypeARIMA }

func (m *Autoregressive) Fit(ctx context.Context, data *models.Table) error {
	fitted, err := m.fit(ctx, data)
	if err != nil {
		return err
	}
	*m = *fitted
	return nil
}

func (m *Autoregressive) Update(ctx context.Context, data *models.Table) error {
	if m.Observations == 0 {
		return m.Fit(ctx, data)
	}
	fitted, err := m.fit(ctx, data)
	if err != nil {
		return err
	}
	if fitted.Order == m.Order {
		params := blend(append([]float64{m.Intercept}, m.Phi...),
			append([]float64{fitted.Intercept}, fitted.Phi...),
			m.Observations, fitted.Observations)
		fitted.Intercept, fitted.Phi = params[0], params[1:]
		fitted.ResidualStd = blend([]float64{m.ResidualStd}, []float64{fitted.ResidualStd}, m.Observations, fitted.Observations)[0]
	}
	fitted.Observations += m.Observations
	*m = *fitted
	return nil
}

func (m *Autoregressive) fit(ctx context.Context, data *models.Table) (*Autoregressive, error) {
	y, err := targetSeries(data, m.Target)
	if err != nil {
		return nil, err
	}
	d := diff(y)
	p := m.Order
	if p < 1 {
		p = 1
	}
	// keep at least ten observations per coefficient
	if limit := len(d) / 10; p > limit {
		p = limit
	}
	if p < 1 {
		return nil, fmt.Errorf("arima: need at least 10 differences, got %d", len(d))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Autoregressive{Target: m.Target, Order: p, Observations: len(d) - p}

	design := make([][]float64, p)
	for i := range design {
		design[i] = make([]float64, 0, len(d)-p)
		for t := p; t < len(d); t++ {
			design[i] = append(design[i], d[t-1-i])
		}
	}

	coeffs, ok := []float64(nil), false
	if len(independentColumns(design, 1e-6)) == p {
		var r regression.Regression
		r.SetObserved("diff")
		for i := 0; i < p; i++ {
			r.SetVar(i, fmt.Sprintf("lag_%d", i+1))
		}
		for t := p; t < len(d); t++ {
			r.Train(regression.DataPoint(d[t], lags(d, t, p)))
		}
		if err := r.Run(); err == nil {
			coeffs = r.GetCoeffs()
			ok = len(coeffs) == p+1 && finite(coeffs...)
		}
	}
	if !ok {
		// degenerate series: random walk with drift
		out.Intercept = mean(d)
		out.Phi = make([]float64, p)
	} else {
		out.Intercept = coeffs[0]
		out.Phi = append([]float64(nil), coeffs[1:]...)
	}

	resid := make([]float64, 0, len(d)-p)
	for t := p; t < len(d); t++ {
		resid = append(resid, d[t]-out.step(lags(d, t, p)))
	}
	out.ResidualStd = stddev(resid)
	return out, nil
}

func (m *Autoregressive) step(lagged []float64) float64 {
	v := m.Intercept
	for i, phi := range m.Phi {
		v += phi * lagged[i]
	}
	return v
}

// lags returns d[t-1], d[t-2], ..., d[t-p].
func lags(d []float64, t, p int) []float64 {
	out := make([]float64, p)
	for i := 0; i < p; i++ {
		out[i] = d[t-1-i]
	}
	return out
}

func (m *Autoregressive) Predict(ctx context.Context, features *models.Table, horizon int) ([]float64, error) {
	values, _, err := m.PredictConfidence(ctx, features, horizon)
	return values, err
}

// PredictConfidence scores the forecast by the accumulated residual spread at the horizon.
func (m *Autoregressive) PredictConfidence(_ context.Context, features *models.Table, horizon int) ([]float64, float64, error) {
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

	hist := diff(y)
	// pad short histories with the drift so the recursion always has p lags
	for len(hist) < m.Order {
		hist = append([]float64{m.Intercept}, hist...)
	}
	window := append([]float64(nil), hist[len(hist)-m.Order:]...)

	deltas := make([]float64, horizon)
	for k := 0; k < horizon; k++ {
		lagged := make([]float64, m.Order)
		for i := 0; i < m.Order; i++ {
			lagged[i] = window[len(window)-1-i]
		}
		deltas[k] = m.step(lagged)
		window = append(window[1:], deltas[k])
	}
	values := pathFromDeltas(y[len(y)-1], deltas)

	spread := m.ResidualStd * math.Sqrt(float64(horizon))
	return values, relativeConfidence(spread, mean(values)), nil
}

var (
	_ domsvc.Model                = (*Autoregressive)(nil)
	_ domsvc.ConfidenceForecaster = (*Autoregressive)(nil)
)
