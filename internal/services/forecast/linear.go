package forecast

import (
	"context"
	"fmt"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"

	"github.com/sajari/regression"
)

// Linear regresses the next-period change of the target on the current feature row.
type Linear struct {
	Target       string    `json:"target"`
	Columns      []string  `json:"columns"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	R2           float64   `json:"r2"`
	Observations int       `json:"observations"`
}

func NewLinear(cfg map[string]any) *Linear {
	return &Linear{Target: targetOf(cfg)}
}

func (m *Linear) Type() models.ModelType { return models.ModelTypeLinear }

func (m *Linear) Fit(ctx context.Context, data *models.Table) error {
	fitted, err := m.fit(ctx, data)
	if err != nil {
		return err
	}
	*m = *fitted
	return nil
}

// Update refits on data and blends coefficients with the current fit when the
// selected columns are unchanged.
func (m *Linear) Update(ctx context.Context, data *models.Table) error {
	if m.Observations == 0 {
		return m.Fit(ctx, data)
	}
	fitted, err := m.fit(ctx, data)
	if err != nil {
		return err
	}
	if sameColumns(m.Columns, fitted.Columns) {
		params := blend(append([]float64{m.Intercept}, m.Coefficients...),
			append([]float64{fitted.Intercept}, fitted.Coefficients...),
			m.Observations, fitted.Observations)
		fitted.Intercept, fitted.Coefficients = params[0], params[1:]
	}
	fitted.Observations += m.Observations
	*m = *fitted
	return nil
}

func (m *Linear) fit(ctx context.Context, data *models.Table) (*Linear, error) {
	y, err := targetSeries(data, m.Target)
	if err != nil {
		return nil, err
	}
	if len(y) < 3 {
		return nil, fmt.Errorf("linear: need at least 3 rows, got %d", len(y))
	}

	// constant and collinear columns make the design matrix singular
	design := make([][]float64, len(data.Columns))
	for j := range data.Columns {
		design[j] = data.Data[j][:len(y)-1]
	}
	var cols []string
	for _, j := range independentColumns(design, 1e-6) {
		cols = append(cols, data.Columns[j])
	}
	if len(y)-1 < len(cols)+2 {
		return nil, fmt.Errorf("linear: %d observations for %d variables", len(y)-1, len(cols))
	}

	out := &Linear{Target: m.Target, Columns: cols, Observations: len(y) - 1}
	if len(cols) == 0 {
		out.Intercept = mean(diff(y))
		return out, nil
	}

	var r regression.Regression
	r.SetObserved("delta_" + m.Target)
	for i, name := range cols {
		r.SetVar(i, name)
	}
	for t := 0; t < len(y)-1; t++ {
		if t%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r.Train(regression.DataPoint(y[t+1]-y[t], rowOf(data, cols, t)))
	}
	if err := r.Run(); err != nil {
		return nil, fmt.Errorf("linear: %w", err)
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) != len(cols)+1 || !finite(coeffs...) {
		// collinear inputs: fall back to the mean drift
		out.Columns = nil
		out.Intercept = mean(diff(y))
		return out, nil
	}
	out.Intercept = coeffs[0]
	out.Coefficients = append([]float64(nil), coeffs[1:]...)
	out.R2 = r.R2
	return out, nil
}

// Predict holds the non-target features at their last observed values and feeds the
// predicted target back into the row.
func (m *Linear) Predict(_ context.Context, features *models.Table, horizon int) ([]float64, error) {
	if m.Observations == 0 {
		return nil, errNotFitted
	}
	if err := checkHorizon(horizon); err != nil {
		return nil, err
	}
	y, err := targetSeries(features, m.Target)
	if err != nil {
		return nil, err
	}

	last := features.Len() - 1
	row := make([]float64, len(m.Columns))
	targetIdx := -1
	for i, name := range m.Columns {
		if name == m.Target {
			targetIdx = i
		}
		if col, ok := features.Column(name); ok {
			row[i] = col[last]
		}
	}

	out := make([]float64, horizon)
	cur := y[last]
	for k := 0; k < horizon; k++ {
		delta := m.Intercept
		for i, c := range m.Coefficients {
			delta += c * row[i]
		}
		cur += delta
		out[k] = cur
		if targetIdx >= 0 {
			row[targetIdx] = cur
		}
	}
	return out, nil
}

func rowOf(t *models.Table, cols []string, i int) []float64 {
	row := make([]float64, len(cols))
	for j, name := range cols {
		col, _ := t.Column(name)
		row[j] = col[i]
	}
	return row
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ domsvc.Model = (*Linear)(nil)
