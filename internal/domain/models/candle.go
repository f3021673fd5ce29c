package models

import "time"

// Candle represents a daily OHLCV record used to build feature tables.
type Candle struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Base column names produced from candles.
const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
)

// CandlesToTable converts chronologically ordered candles into a dense OHLCV table.
func CandlesToTable(candles []Candle) *Table {
	n := len(candles)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, c := range candles {
		open[i] = c.Open
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
		volume[i] = c.Volume
	}
	return &Table{
		Columns: []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume},
		Data:    [][]float64{open, high, low, closes, volume},
	}
}
