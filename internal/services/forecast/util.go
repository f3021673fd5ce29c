package forecast

import (
	"errors"
	"fmt"
	"math"

	"FinCast/internal/domain/models"
)

var errNotFitted = errors.New("model is not fitted")

const defaultTarget = models.ColClose

func targetOf(cfg map[string]any) string {
	return models.ConfigString(cfg, "target", defaultTarget)
}

// targetSeries returns the target column or an error naming it.
func targetSeries(t *models.Table, target string) ([]float64, error) {
	if t == nil || t.Len() == 0 {
		return nil, fmt.Errorf("empty feature table")
	}
	col, ok := t.Column(target)
	if !ok {
		return nil, fmt.Errorf("target column %q not present", target)
	}
	return col, nil
}

func checkHorizon(h int) error {
	if h < 1 {
		return fmt.Errorf("horizon must be positive, got %d", h)
	}
	return nil
}

func diff(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	for i := 1; i < len(x); i++ {
		out[i-1] = x[i] - x[i-1]
	}
	return out
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}

// stddev is the sample standard deviation.
func stddev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	m := mean(x)
	s := 0.0
	for _, v := range x {
		s += (v - m) * (v - m)
	}
	return math.Sqrt(s / float64(len(x)-1))
}

func finite(x ...float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// blend mixes fitted parameters weighted by the number of observations behind each side.
func blend(old, fresh []float64, nOld, nNew int) []float64 {
	if len(old) != len(fresh) || nOld+nNew == 0 {
		return append([]float64(nil), fresh...)
	}
	w := float64(nOld) / float64(nOld+nNew)
	out := make([]float64, len(old))
	for i := range old {
		out[i] = w*old[i] + (1-w)*fresh[i]
	}
	return out
}

// relativeConfidence maps a forecast spread onto [0,1] against the forecast level.
func relativeConfidence(spread, level float64) float64 {
	return clamp01(1 - spread/(math.Abs(level)+1e-8))
}

// pathFromDeltas accumulates per-step changes onto last.
func pathFromDeltas(last float64, deltas []float64) []float64 {
	out := make([]float64, len(deltas))
	cur := last
	for i, d := range deltas {
		cur += d
		out[i] = cur
	}
	return out
}

func constantDeltas(d float64, h int) []float64 {
	out := make([]float64, h)
	for i := range out {
		out[i] = d
	}
	return out
}

// independentColumns returns the positions of columns that are not (numerically) linear
// combinations of earlier kept columns, after centering. Constant columns are dropped.
func independentColumns(cols [][]float64, tol float64) []int {
	var basis [][]float64
	var kept []int
	for j, col := range cols {
		v := make([]float64, len(col))
		m := mean(col)
		for i, x := range col {
			v[i] = x - m
		}
		norm0 := dot(v, v)
		if norm0 == 0 || !finite(norm0) {
			continue
		}
		for _, q := range basis {
			c := dot(v, q)
			for i := range v {
				v[i] -= c * q[i]
			}
		}
		norm := dot(v, v)
		if norm <= tol*tol*norm0 {
			continue
		}
		s := 1 / math.Sqrt(norm)
		for i := range v {
			v[i] *= s
		}
		basis = append(basis, v)
		kept = append(kept, j)
	}
	return kept
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
