package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"FinCast/internal/domain/models"
	pkgch "FinCast/pkg/clickhouse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVCandleStore(t *testing.T) {
	dir := t.TempDir()
	csv := "Date,Open,High,Low,Close,Volume\n" +
		"2024-01-03,11,12,10,11.5,1000\n" +
		"2024-01-01,9,10,8,9.5,900\n" +
		"2024-01-02,10,11,9,10.5,950\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(csv), 0o644))

	s := NewCSVCandleStore(dir)
	ctx := context.Background()

	tbl, err := s.GetHistoricalData(ctx, "AAPL", 10)
	require.NoError(t, err)
	closes, ok := tbl.Column(models.ColClose)
	require.True(t, ok)
	assert.Equal(t, []float64{9.5, 10.5, 11.5}, closes, "rows are sorted oldest first")

	tbl, err = s.GetHistoricalData(ctx, "AAPL", 2)
	require.NoError(t, err)
	closes, _ = tbl.Column(models.ColClose)
	assert.Equal(t, []float64{10.5, 11.5}, closes)

	tbl, err = s.GetHistoricalData(ctx, "MSFT", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())

	_, err = s.GetHistoricalData(ctx, "../etc", 10)
	assert.Error(t, err)
}

func TestCSVCandleStoreCloseOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "X.csv"), []byte("date,close\n2024-01-01,5\n"), 0o644))

	tbl, err := NewCSVCandleStore(dir).GetHistoricalData(context.Background(), "X", 10)
	require.NoError(t, err)
	open, _ := tbl.Column(models.ColOpen)
	assert.Equal(t, []float64{5}, open)
}

func TestCHCandleStoreRejectsBadTable(t *testing.T) {
	_, err := NewCHCandleStore(pkgch.NewClientFromDB(nil), "candles; DROP TABLE x", nil)
	assert.Error(t, err)

	s, err := NewCHCandleStore(pkgch.NewClientFromDB(nil), "market.candles_1d", nil)
	require.NoError(t, err)
	assert.Equal(t, "market.candles_1d", s.table)
}

func TestReverseCandles(t *testing.T) {
	c := []models.Candle{{Close: 1}, {Close: 2}, {Close: 3}}
	reverseCandles(c)
	assert.Equal(t, 3.0, c[0].Close)
	assert.Equal(t, 1.0, c[2].Close)
}
