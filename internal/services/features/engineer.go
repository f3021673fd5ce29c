package features

import (
	"fmt"
	"math"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

// Generated column names.
const (
	ColReturn     = "return_1"
	ColLogReturn  = "log_return"
	ColSMAShort   = "sma_short"
	ColSMALong    = "sma_long"
	ColRSI        = "rsi"
	ColVolatility = "volatility"
	ColMomentum   = "momentum"
	ColVolumeSMA  = "volume_ratio"
)

// Option configures Engineer.
type Option func(*Engineer)

// Engineer derives technical indicator columns from an OHLCV table.
type Engineer struct {
	shortWindow int
	longWindow  int
	rsiPeriod   int
	momentum    int
	lags        int
}

// NewEngineer returns an engineer with the given defaults. longWindow is the feature window size.
func NewEngineer(opts ...Option) *Engineer {
	e := &Engineer{
		shortWindow: 5,
		longWindow:  20,
		rsiPeriod:   14,
		momentum:    10,
		lags:        3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithWindow sets the long rolling window used by sma_long and volatility.
func WithWindow(n int) Option {
	return func(e *Engineer) {
		if n > 1 {
			e.longWindow = n
		}
	}
}

// WithLags sets how many lagged log returns are emitted.
func WithLags(n int) Option {
	return func(e *Engineer) {
		if n >= 0 {
			e.lags = n
		}
	}
}

type params struct {
	short, long, rsi, momentum, lags int
}

func (e *Engineer) params(cfg map[string]any) params {
	return params{
		short:    models.ConfigInt(cfg, "sma_short", e.shortWindow),
		long:     models.ConfigInt(cfg, "window", e.longWindow),
		rsi:      models.ConfigInt(cfg, "rsi_period", e.rsiPeriod),
		momentum: models.ConfigInt(cfg, "momentum", e.momentum),
		lags:     models.ConfigInt(cfg, "lags", e.lags),
	}
}

// Warmup is the number of leading rows that contain NaN for cfg.
func (e *Engineer) Warmup(cfg map[string]any) int {
	p := e.params(cfg)
	w := max(p.short, p.long, p.rsi, p.momentum)
	// volatility is a std over log returns, which start one row late
	return max(w, p.long+1, p.lags+1)
}

// GenerateFeatures keeps the input columns and appends indicator columns. Rows stay aligned
// with the input; incomplete windows are NaN.
func (e *Engineer) GenerateFeatures(data *models.Table, cfg map[string]any) (*models.Table, error) {
	if data == nil || data.Len() == 0 {
		return nil, fmt.Errorf("generate features: empty table")
	}
	closes, ok := data.Column(models.ColClose)
	if !ok {
		return nil, fmt.Errorf("generate features: missing %q column", models.ColClose)
	}

	p := e.params(cfg)
	logRet := LogReturns(closes)

	cols := []struct {
		name   string
		values []float64
	}{
		{ColReturn, Returns(closes)},
		{ColLogReturn, logRet},
		{ColSMAShort, ratio(SMA(closes, p.short), closes)},
		{ColSMALong, ratio(SMA(closes, p.long), closes)},
		{ColRSI, RSI(closes, p.rsi)},
		{ColVolatility, RollingStd(logRet, p.long)},
		{ColMomentum, Momentum(closes, p.momentum)},
	}
	if volume, ok := data.Column(models.ColVolume); ok {
		cols = append(cols, struct {
			name   string
			values []float64
		}{ColVolumeSMA, ratio(SMA(volume, p.long), volume)})
	}
	for k := 1; k <= p.lags; k++ {
		cols = append(cols, struct {
			name   string
			values []float64
		}{fmt.Sprintf("log_return_lag_%d", k), Lag(logRet, k)})
	}

	out := data.Clone()
	for _, c := range cols {
		out.Columns = append(out.Columns, c.name)
		out.Data = append(out.Data, c.values)
	}
	return out, nil
}

// ratio returns base/avg - 1 so price-scale columns become scale free.
func ratio(avg, base []float64) []float64 {
	out := make([]float64, len(avg))
	for i := range avg {
		if math.IsNaN(avg[i]) || avg[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = base[i]/avg[i] - 1
	}
	return out
}

var _ domsvc.FeatureEngineer = (*Engineer)(nil)
