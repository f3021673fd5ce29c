package forecast

import (
	"context"
	"fmt"
	"math"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

// GARCH models log returns of the target with a constant mean and GARCH(1,1) variance.
// The price path drifts at the mean return; confidence falls with the forecast variance.
type GARCH struct {
	Target       string  `json:"target"`
	Mu           float64 `json:"mu"`
	Omega        float64 `json:"omega"`
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
	Observations int     `json:"observations"`
}

func NewGARCH(cfg map[string]any) *GARCH {
	return &GARCH{Target: targetOf(cfg)}
}

func (m *GARCH) Type() models.ModelType { return models.ModelTypeGARCH }

func (m *GARCH) Fit(ctx context.Context, data *models.Table) error {
	fitted, err := m.fit(ctx, data)
	if err != nil {
		return err
	}
	*m = *fitted
	return nil
}

func (m *GARCH) Update(ctx context.Context, data *models.Table) error {
	if m.Observations == 0 {
		return m.Fit(ctx, data)
	}
	fitted, err := m.fit(ctx, data)
	if err != nil {
		return err
	}
	p := blend([]float64{m.Mu, m.Omega, m.Alpha, m.Beta},
		[]float64{fitted.Mu, fitted.Omega, fitted.Alpha, fitted.Beta},
		m.Observations, fitted.Observations)
	fitted.Mu, fitted.Omega, fitted.Alpha, fitted.Beta = p[0], p[1], p[2], p[3]
	fitted.Observations += m.Observations
	*m = *fitted
	return nil
}

func (m *GARCH) fit(ctx context.Context, data *models.Table) (*GARCH, error) {
	y, err := targetSeries(data, m.Target)
	if err != nil {
		return nil, err
	}
	r := logReturns(y)
	if len(r) < 10 {
		return nil, fmt.Errorf("garch: need at least 10 returns, got %d", len(r))
	}

	mu := mean(r)
	eps := make([]float64, len(r))
	for i, v := range r {
		eps[i] = v - mu
	}
	sampleVar := stddev(r) * stddev(r)
	if sampleVar == 0 {
		sampleVar = 1e-12
	}

	best := &GARCH{Target: m.Target, Mu: mu, Omega: sampleVar, Observations: len(r)}
	bestLL := math.Inf(-1)
	for alpha := 0.02; alpha <= 0.30; alpha += 0.02 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for beta := 0.50; beta <= 0.98; beta += 0.02 {
			if alpha+beta >= 0.999 {
				continue
			}
			// variance targeting pins the unconditional variance to the sample variance
			omega := sampleVar * (1 - alpha - beta)
			ll := garchLogLikelihood(eps, omega, alpha, beta, sampleVar)
			if ll > bestLL {
				bestLL = ll
				best.Omega, best.Alpha, best.Beta = omega, alpha, beta
			}
		}
	}
	return best, nil
}

func garchLogLikelihood(eps []float64, omega, alpha, beta, h0 float64) float64 {
	h := h0
	ll := 0.0
	for _, e := range eps {
		if h <= 0 {
			return math.Inf(-1)
		}
		ll -= 0.5 * (math.Log(h) + e*e/h)
		h = omega + alpha*e*e + beta*h
	}
	return ll
}

// nextVariance filters the observed returns and returns the one-step-ahead variance.
func (m *GARCH) nextVariance(r []float64) float64 {
	h := m.unconditional()
	for _, v := range r {
		e := v - m.Mu
		h = m.Omega + m.Alpha*e*e + m.Beta*h
	}
	return h
}

func (m *GARCH) unconditional() float64 {
	persistence := m.Alpha + m.Beta
	if persistence >= 1 {
		return m.Omega
	}
	return m.Omega / (1 - persistence)
}

func (m *GARCH) Predict(ctx context.Context, features *models.Table, horizon int) ([]float64, error) {
	values, _, err := m.PredictConfidence(ctx, features, horizon)
	return values, err
}

func (m *GARCH) PredictConfidence(_ context.Context, features *models.Table, horizon int) ([]float64, float64, error) {
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

	last := y[len(y)-1]
	h := m.nextVariance(logReturns(y))
	longRun := m.unconditional()
	persistence := m.Alpha + m.Beta

	values := make([]float64, horizon)
	cumVar := 0.0
	for k := 0; k < horizon; k++ {
		values[k] = last * math.Exp(m.Mu*float64(k+1))
		cumVar += h
		// E[h_{t+k+1}] reverts geometrically to the long-run variance
		h = longRun + persistence*(h-longRun)
	}
	return values, clamp01(1 - math.Sqrt(cumVar)), nil
}

func logReturns(y []float64) []float64 {
	if len(y) < 2 {
		return nil
	}
	out := make([]float64, 0, len(y)-1)
	for i := 1; i < len(y); i++ {
		if y[i-1] <= 0 || y[i] <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(y[i]/y[i-1]))
	}
	return out
}

var (
	_ domsvc.Model                = (*GARCH)(nil)
	_ domsvc.ConfidenceForecaster = (*GARCH)(nil)
)
