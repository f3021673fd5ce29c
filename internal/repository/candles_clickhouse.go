package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	pkgch "FinCast/pkg/clickhouse"
	applogger "FinCast/pkg/logger"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CHCandleStore serves daily candles from a ClickHouse table with columns
// (bucket, symbol, open, high, low, close, vol).
type CHCandleStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, table string, l *applogger.Logger) (*CHCandleStore, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &CHCandleStore{db: ch.DB(), table: table, l: l}, nil
}

// GetHistoricalData returns the latest daysBack candles, oldest first.
func (s *CHCandleStore) GetHistoricalData(ctx context.Context, symbol string, daysBack int) (*models.Table, error) {
	candles, err := s.latestCandles(ctx, symbol, daysBack)
	if err != nil {
		return nil, err
	}
	return models.CandlesToTable(candles), nil
}

func (s *CHCandleStore) latestCandles(ctx context.Context, symbol string, n int) ([]models.Candle, error) {
	start := time.Now()
	const qtpl = `
        SELECT bucket, symbol, open, high, low, close, vol
        FROM %s
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.table), symbol, n)
	if err != nil {
		s.l.Error("clickhouse latest_candles query error",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, n)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			s.l.Error("clickhouse latest_candles scan error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	reverseCandles(out)

	s.l.Debug("clickhouse latest_candles ok",
		applogger.String("table", s.table),
		applogger.String("symbol", symbol),
		applogger.Int("limit", n),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func reverseCandles(c []models.Candle) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

var _ domrepo.HistoricalDataProvider = (*CHCandleStore)(nil)
