package forecast

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

// Stump is a depth-one regression tree.
type Stump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      float64 `json:"left"`
	Right     float64 `json:"right"`
}

func (s Stump) eval(row []float64) float64 {
	if row[s.Feature] <= s.Threshold {
		return s.Left
	}
	return s.Right
}

// sample is a design matrix in row-major form with its response.
type sample struct {
	x [][]float64
	y []float64
}

// deltaSample pairs each feature row with the next-period change of the target.
func deltaSample(data *models.Table, target string) (*sample, []string, error) {
	y, err := targetSeries(data, target)
	if err != nil {
		return nil, nil, err
	}
	if len(y) < 3 {
		return nil, nil, fmt.Errorf("need at least 3 rows, got %d", len(y))
	}
	s := &sample{x: make([][]float64, len(y)-1), y: make([]float64, len(y)-1)}
	for t := 0; t < len(y)-1; t++ {
		s.x[t] = data.Row(t)
		s.y[t] = y[t+1] - y[t]
	}
	return s, append([]string(nil), data.Columns...), nil
}

// fitStump searches candidate features at quantile thresholds for the lowest squared error.
func fitStump(s *sample, idx []int, features []int, bins int) (Stump, bool) {
	if len(idx) < 2 {
		return Stump{}, false
	}
	total := 0.0
	for _, i := range idx {
		total += s.y[i]
	}

	best := Stump{}
	bestGain := 0.0
	found := false
	vals := make([]float64, len(idx))
	for _, f := range features {
		for k, i := range idx {
			vals[k] = s.x[i][f]
		}
		for _, thr := range quantiles(vals, bins) {
			var sumL float64
			var nL int
			for _, i := range idx {
				if s.x[i][f] <= thr {
					sumL += s.y[i]
					nL++
				}
			}
			nR := len(idx) - nL
			if nL == 0 || nR == 0 {
				continue
			}
			sumR := total - sumL
			// reduction in SSE relative to a single mean
			gain := sumL*sumL/float64(nL) + sumR*sumR/float64(nR) - total*total/float64(len(idx))
			if gain > bestGain || !found {
				bestGain = gain
				best = Stump{Feature: f, Threshold: thr, Left: sumL / float64(nL), Right: sumR / float64(nR)}
				found = true
			}
		}
	}
	return best, found
}

func quantiles(vals []float64, bins int) []float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	out := make([]float64, 0, bins)
	for b := 1; b < bins; b++ {
		v := sorted[b*(len(sorted)-1)/bins]
		if len(out) == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// forecastRow projects the last feature row onto the trained column order.
func forecastRow(features *models.Table, columns []string) []float64 {
	last := features.Len() - 1
	row := make([]float64, len(columns))
	for j, name := range columns {
		if col, ok := features.Column(name); ok {
			row[j] = col[last]
		}
	}
	return row
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// RandomForest averages stumps fit on bootstrap samples with random feature subsets.
type RandomForest struct {
	Target     string   `json:"target"`
	Columns    []string `json:"columns"`
	Trees      []Stump  `json:"trees"`
	Estimators int      `json:"estimators"`
	UpdateSize int      `json:"update_size"`
	Bins       int      `json:"bins"`
	Seed       uint64   `json:"seed"`
	Rounds     uint64   `json:"rounds"`
}

func NewRandomForest(cfg map[string]any) *RandomForest {
	return &RandomForest{
		Target:     targetOf(cfg),
		Estimators: models.ConfigInt(cfg, "n_estimators", 50),
		UpdateSize: models.ConfigInt(cfg, "update_estimators", 10),
		Bins:       models.ConfigInt(cfg, "bins", 16),
		Seed:       uint64(models.ConfigInt(cfg, "seed", 42)),
	}
}

func (m *RandomForest) Type() models.ModelType { return models.ModelTypeRandomForest }

func (m *RandomForest) Fit(ctx context.Context, data *models.Table) error {
	s, cols, err := deltaSample(data, m.Target)
	if err != nil {
		return fmt.Errorf("random_forest: %w", err)
	}
	m.Columns = cols
	m.Trees = nil
	return m.grow(ctx, s, max(m.Estimators, 1))
}

// Update grows additional trees on data and retires the oldest beyond the ensemble size.
func (m *RandomForest) Update(ctx context.Context, data *models.Table) error {
	if len(m.Trees) == 0 {
		return m.Fit(ctx, data)
	}
	aligned, _ := alignTable(data, m.Columns)
	s, _, err := deltaSample(aligned, m.Target)
	if err != nil {
		return fmt.Errorf("random_forest: %w", err)
	}
	if err := m.grow(ctx, s, max(m.UpdateSize, 1)); err != nil {
		return err
	}
	if extra := len(m.Trees) - max(m.Estimators, 1); extra > 0 {
		m.Trees = m.Trees[extra:]
	}
	return nil
}

func (m *RandomForest) grow(ctx context.Context, s *sample, n int) error {
	m.Rounds++
	rng := rand.New(rand.NewPCG(m.Seed, m.Rounds))
	p := len(m.Columns)
	subset := max(1, int(math.Sqrt(float64(p))))
	bins := max(m.Bins, 2)
	for b := 0; b < n; b++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx := make([]int, len(s.y))
		for i := range idx {
			idx[i] = rng.IntN(len(s.y))
		}
		feats := rng.Perm(p)[:subset]
		if stump, ok := fitStump(s, idx, feats, bins); ok {
			m.Trees = append(m.Trees, stump)
		}
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("random_forest: no informative split found")
	}
	return nil
}

func (m *RandomForest) Predict(_ context.Context, features *models.Table, horizon int) ([]float64, error) {
	if len(m.Trees) == 0 {
		return nil, errNotFitted
	}
	if err := checkHorizon(horizon); err != nil {
		return nil, err
	}
	y, err := targetSeries(features, m.Target)
	if err != nil {
		return nil, err
	}
	row := forecastRow(features, m.Columns)
	delta := 0.0
	for _, t := range m.Trees {
		delta += t.eval(row)
	}
	delta /= float64(len(m.Trees))
	return pathFromDeltas(y[len(y)-1], constantDeltas(delta, horizon)), nil
}

// Boosted is gradient boosting with squared loss over stumps.
type Boosted struct {
	Target       string   `json:"target"`
	Columns      []string `json:"columns"`
	Base         float64  `json:"base"`
	LearningRate float64  `json:"learning_rate"`
	Stages       []Stump  `json:"stages"`
	Rounds       int      `json:"rounds"`
	UpdateRounds int      `json:"update_rounds"`
	Bins         int      `json:"bins"`
}

func NewBoosted(cfg map[string]any) *Boosted {
	return &Boosted{
		Target:       targetOf(cfg),
		LearningRate: models.ConfigFloat(cfg, "learning_rate", 0.1),
		Rounds:       models.ConfigInt(cfg, "n_estimators", 100),
		UpdateRounds: models.ConfigInt(cfg, "update_rounds", 20),
		Bins:         models.ConfigInt(cfg, "bins", 16),
	}
}

func (m *Boosted) Type() models.ModelType { return models.ModelTypeXGBoost }

func (m *Boosted) Fit(ctx context.Context, data *models.Table) error {
	s, cols, err := deltaSample(data, m.Target)
	if err != nil {
		return fmt.Errorf("xgboost: %w", err)
	}
	m.Columns = cols
	m.Stages = nil
	m.Base = mean(s.y)
	return m.boost(ctx, s, max(m.Rounds, 1))
}

// Update continues boosting from the current ensemble on data.
func (m *Boosted) Update(ctx context.Context, data *models.Table) error {
	if len(m.Columns) == 0 {
		return m.Fit(ctx, data)
	}
	aligned, _ := alignTable(data, m.Columns)
	s, _, err := deltaSample(aligned, m.Target)
	if err != nil {
		return fmt.Errorf("xgboost: %w", err)
	}
	return m.boost(ctx, s, max(m.UpdateRounds, 1))
}

func (m *Boosted) boost(ctx context.Context, s *sample, rounds int) error {
	pred := make([]float64, len(s.y))
	for i, row := range s.x {
		pred[i] = m.eval(row)
	}
	resid := &sample{x: s.x, y: make([]float64, len(s.y))}
	all := indices(len(s.y))
	feats := indices(len(m.Columns))
	bins := max(m.Bins, 2)
	for r := 0; r < rounds; r++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range s.y {
			resid.y[i] = s.y[i] - pred[i]
		}
		stump, ok := fitStump(resid, all, feats, bins)
		if !ok {
			break
		}
		stump.Left *= m.LearningRate
		stump.Right *= m.LearningRate
		m.Stages = append(m.Stages, stump)
		for i, row := range s.x {
			pred[i] += stump.eval(row)
		}
	}
	return nil
}

func (m *Boosted) eval(row []float64) float64 {
	v := m.Base
	for _, s := range m.Stages {
		v += s.eval(row)
	}
	return v
}

func (m *Boosted) Predict(_ context.Context, features *models.Table, horizon int) ([]float64, error) {
	if len(m.Columns) == 0 {
		return nil, errNotFitted
	}
	if err := checkHorizon(horizon); err != nil {
		return nil, err
	}
	y, err := targetSeries(features, m.Target)
	if err != nil {
		return nil, err
	}
	delta := m.eval(forecastRow(features, m.Columns))
	return pathFromDeltas(y[len(y)-1], constantDeltas(delta, horizon)), nil
}

// alignTable reorders data onto columns, zero-filling absent ones.
func alignTable(data *models.Table, columns []string) (*models.Table, []string) {
	out := &models.Table{Columns: append([]string(nil), columns...), Data: make([][]float64, len(columns))}
	var missing []string
	for j, name := range columns {
		if col, ok := data.Column(name); ok {
			out.Data[j] = append([]float64(nil), col...)
			continue
		}
		missing = append(missing, name)
		out.Data[j] = make([]float64, data.Len())
	}
	return out, missing
}

var (
	_ domsvc.Model = (*RandomForest)(nil)
	_ domsvc.Model = (*Boosted)(nil)
)
