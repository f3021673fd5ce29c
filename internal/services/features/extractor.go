package features

import "math"

// Rolling indicator series. Every function returns a slice aligned with its input;
// positions without a complete window hold NaN.

// Returns computes simple returns r_t = C_t / C_{t-1} - 1.
func Returns(closes []float64) []float64 {
	out := nanSeries(len(closes))
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			out[i] = 0
			continue
		}
		out[i] = closes[i]/prev - 1
	}
	return out
}

// LogReturns computes r_t = ln(C_t / C_{t-1}); non-positive prices yield 0.
func LogReturns(closes []float64) []float64 {
	out := nanSeries(len(closes))
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if prev <= 0 || cur <= 0 {
			out[i] = 0
			continue
		}
		out[i] = math.Log(cur / prev)
	}
	return out
}

// SMA is the trailing simple moving average over window values.
func SMA(x []float64, window int) []float64 {
	out := nanSeries(len(x))
	if window <= 0 {
		return out
	}
	sum := 0.0
	count := 0
	for i, v := range x {
		if !math.IsNaN(v) {
			sum += v
			count++
		}
		if i >= window {
			if old := x[i-window]; !math.IsNaN(old) {
				sum -= old
				count--
			}
		}
		if i >= window-1 && count == window {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// RollingStd is the trailing sample standard deviation over window values.
func RollingStd(x []float64, window int) []float64 {
	out := nanSeries(len(x))
	if window <= 1 {
		return out
	}
	for i := window - 1; i < len(x); i++ {
		sum, sum2 := 0.0, 0.0
		ok := true
		for _, v := range x[i-window+1 : i+1] {
			if math.IsNaN(v) {
				ok = false
				break
			}
			sum += v
			sum2 += v * v
		}
		if !ok {
			continue
		}
		n := float64(window)
		mean := sum / n
		variance := (sum2 - n*mean*mean) / (n - 1)
		if variance < 0 {
			variance = 0
		}
		out[i] = math.Sqrt(variance)
	}
	return out
}

// RSI is the Wilder-smoothed relative strength index. The first value appears at index period.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Momentum is C_t / C_{t-n} - 1.
func Momentum(closes []float64, n int) []float64 {
	out := nanSeries(len(closes))
	if n <= 0 {
		return out
	}
	for i := n; i < len(closes); i++ {
		if closes[i-n] == 0 {
			out[i] = 0
			continue
		}
		out[i] = closes[i]/closes[i-n] - 1
	}
	return out
}

// Lag shifts x forward by k positions.
func Lag(x []float64, k int) []float64 {
	out := nanSeries(len(x))
	for i := k; i < len(x); i++ {
		out[i] = x[i-k]
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
