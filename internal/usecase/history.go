package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	"FinCast/pkg/logger"

	"github.com/google/uuid"
)

const (
	historyVersion      = 1
	defaultHistoryLimit = 100
)

// historyRecord is the wire form of a stored prediction.
type historyRecord struct {
	V int `json:"v"`
	models.HistoryEntry
}

// HistoryCache is a capped, time-bounded per-symbol log of served predictions, newest
// first. Losing it never affects predictions.
type HistoryCache struct {
	store      domrepo.HistoryStore
	prefix     string
	maxEntries int
	retention  time.Duration
	l          *logger.Logger
	now        func() time.Time
}

// HistoryOption configures HistoryCache.
type HistoryOption func(*HistoryCache)

func WithHistoryPrefix(prefix string) HistoryOption {
	return func(h *HistoryCache) {
		if prefix != "" {
			h.prefix = prefix
		}
	}
}

func WithHistoryLimits(maxEntries int, retention time.Duration) HistoryOption {
	return func(h *HistoryCache) {
		if maxEntries > 0 {
			h.maxEntries = maxEntries
		}
		if retention > 0 {
			h.retention = retention
		}
	}
}

func WithHistoryClock(now func() time.Time) HistoryOption {
	return func(h *HistoryCache) {
		h.now = now
	}
}

func NewHistoryCache(store domrepo.HistoryStore, l *logger.Logger, opts ...HistoryOption) *HistoryCache {
	if l == nil {
		l = logger.Nop()
	}
	h := &HistoryCache{
		store:      store,
		prefix:     "predictions:history",
		maxEntries: 1000,
		retention:  7 * 24 * time.Hour,
		l:          l,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MaxEntries is the per-symbol cap.
func (h *HistoryCache) MaxEntries() int {
	return h.maxEntries
}

func (h *HistoryCache) key(symbol string) string {
	return fmt.Sprintf("%s:%s", h.prefix, symbol)
}

// Append stores resp as the newest entry for its symbol, then trims entries that fell
// out of the retention window.
func (h *HistoryCache) Append(ctx context.Context, resp *models.PredictionResponse) (*models.HistoryEntry, error) {
	entry := models.HistoryEntry{
		ID:         uuid.NewString(),
		Symbol:     resp.Symbol,
		RecordedAt: h.now().UTC(),
		Response:   resp,
	}
	b, err := json.Marshal(historyRecord{V: historyVersion, HistoryEntry: entry})
	if err != nil {
		return nil, fmt.Errorf("encode history entry: %w", err)
	}
	key := h.key(resp.Symbol)
	if err := h.store.Push(ctx, key, b, h.maxEntries, h.retention); err != nil {
		return nil, err
	}
	if err := h.trimExpired(ctx, key); err != nil {
		h.l.Warn("failed to trim prediction history", logger.String("key", key), logger.Error(err))
	}
	return &entry, nil
}

// trimExpired drops the tail once the oldest entry is past the retention window.
func (h *HistoryCache) trimExpired(ctx context.Context, key string) error {
	cutoff := h.now().Add(-h.retention)
	oldest, err := h.store.Range(ctx, key, -1, -1)
	if err != nil || len(oldest) == 0 {
		return err
	}
	if e, ok := decodeHistory(oldest[0]); ok && !e.RecordedAt.Before(cutoff) {
		return nil
	}

	raw, err := h.store.Range(ctx, key, 0, -1)
	if err != nil {
		return err
	}
	keep := 0
	for i, b := range raw {
		e, ok := decodeHistory(b)
		if !ok || e.RecordedAt.Before(cutoff) {
			break
		}
		keep = i + 1
	}
	if keep == len(raw) {
		return nil
	}
	// Cut from the tail so entries pushed at the head since the read survive.
	// Dropping everything puts stop before the head, which empties the list.
	drop := int64(len(raw) - keep)
	return h.store.Trim(ctx, key, 0, -drop-1)
}

// Get returns up to limit newest entries for symbol. Undecodable or expired entries are
// skipped. limit <= 0 means the default of 100; it never exceeds the cap.
func (h *HistoryCache) Get(ctx context.Context, symbol string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > h.maxEntries {
		limit = h.maxEntries
	}
	raw, err := h.store.Range(ctx, h.key(symbol), 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}
	cutoff := h.now().Add(-h.retention)
	out := make([]models.HistoryEntry, 0, len(raw))
	for _, b := range raw {
		e, ok := decodeHistory(b)
		if !ok {
			h.l.Debug("skipping undecodable history entry", logger.String("symbol", symbol))
			continue
		}
		if e.RecordedAt.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Performance summarises the entries recorded during the last days days.
func (h *HistoryCache) Performance(ctx context.Context, symbol string, days int) (*models.PerformanceSummary, error) {
	if days <= 0 {
		days = 7
	}
	entries, err := h.Get(ctx, symbol, h.maxEntries)
	if err != nil {
		return nil, err
	}
	since := h.now().AddDate(0, 0, -days)
	out := &models.PerformanceSummary{Symbol: symbol, AnalysisPeriodDays: days}
	var confSum float64
	for _, e := range entries {
		if e.RecordedAt.Before(since) || e.Response == nil {
			continue
		}
		out.TotalPredictions++
		if !e.Response.Failed() {
			out.SuccessfulPredictions++
			confSum += e.Response.Metadata.ConfidenceScore
		}
	}
	if out.TotalPredictions > 0 {
		out.SuccessRate = float64(out.SuccessfulPredictions) / float64(out.TotalPredictions)
	}
	if out.SuccessfulPredictions > 0 {
		out.AverageConfidence = confSum / float64(out.SuccessfulPredictions)
	}
	return out, nil
}

func decodeHistory(b []byte) (models.HistoryEntry, bool) {
	var rec historyRecord
	if err := json.Unmarshal(b, &rec); err != nil || rec.V != historyVersion {
		return models.HistoryEntry{}, false
	}
	return rec.HistoryEntry, true
}
