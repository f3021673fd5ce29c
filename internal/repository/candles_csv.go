package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	xutil "FinCast/pkg/util"
)

// CSVCandleStore reads {dir}/{SYMBOL}.csv files with a header row containing at least
// date and close; open, high, low and volume are optional.
type CSVCandleStore struct {
	dir string
}

func NewCSVCandleStore(dir string) *CSVCandleStore {
	return &CSVCandleStore{dir: dir}
}

// GetHistoricalData returns the latest daysBack rows. A missing file yields an empty table.
func (s *CSVCandleStore) GetHistoricalData(ctx context.Context, symbol string, daysBack int) (*models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(symbol, `/\`) || strings.Contains(symbol, "..") {
		return nil, fmt.Errorf("invalid symbol %q", symbol)
	}
	f, err := os.Open(filepath.Join(s.dir, symbol+".csv"))
	if errors.Is(err, os.ErrNotExist) {
		return models.CandlesToTable(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open candles for %s: %w", symbol, err)
	}
	defer f.Close()

	candles, err := parseCandlesCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("parse candles for %s: %w", symbol, err)
	}
	if daysBack > 0 && len(candles) > daysBack {
		candles = candles[len(candles)-daysBack:]
	}
	return models.CandlesToTable(candles), nil
}

func parseCandlesCSV(r io.Reader, symbol string) ([]models.Candle, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	dateCol, ok := idx["date"]
	if !ok {
		if dateCol, ok = idx["timestamp"]; !ok {
			return nil, fmt.Errorf("missing date column")
		}
	}
	closeCol, ok := idx[models.ColClose]
	if !ok {
		return nil, fmt.Errorf("missing close column")
	}

	var out []models.Candle
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, ok := xutil.ParseTime(rec[dateCol])
		if !ok {
			return nil, fmt.Errorf("line %d: bad date %q", line, rec[dateCol])
		}
		closePrice, err := strconv.ParseFloat(rec[closeCol], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad close: %w", line, err)
		}
		c := models.Candle{Bucket: ts, Symbol: symbol, Close: closePrice}
		c.Open = optionalFloat(rec, idx, models.ColOpen, closePrice)
		c.High = optionalFloat(rec, idx, models.ColHigh, closePrice)
		c.Low = optionalFloat(rec, idx, models.ColLow, closePrice)
		c.Volume = optionalFloat(rec, idx, models.ColVolume, 0)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

func optionalFloat(rec []string, idx map[string]int, col string, def float64) float64 {
	i, ok := idx[col]
	if !ok || i >= len(rec) {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
	if err != nil {
		return def
	}
	return v
}

var _ domrepo.HistoricalDataProvider = (*CSVCandleStore)(nil)
