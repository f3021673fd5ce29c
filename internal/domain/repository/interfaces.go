package repository

import (
	"context"
	"time"

	"FinCast/internal/domain/models"
)

// MetadataStore persists model records. Get returns models.ErrModelNotFound (wrapped) for unknown ids.
type MetadataStore interface {
	Put(ctx context.Context, rec *models.ModelRecord) error
	Get(ctx context.Context, id string) (*models.ModelRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]*models.ModelRecord, error)
	Close() error
}

// ArtifactStore is byte-level storage for serialized models.
// Get returns models.ErrArtifactNotFound (wrapped) for unknown paths; Delete is idempotent.
type ArtifactStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// HistoricalDataProvider returns up to daysBack daily OHLCV rows, oldest first.
// An empty table means no data.
type HistoricalDataProvider interface {
	GetHistoricalData(ctx context.Context, symbol string, daysBack int) (*models.Table, error)
}

// HistoryStore is a capped, expiring list per key, newest first.
type HistoryStore interface {
	Push(ctx context.Context, key string, value []byte, maxLen int, ttl time.Duration) error
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Trim(ctx context.Context, key string, start, stop int64) error
}

// EventPublisher ships lifecycle and prediction events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, evt models.Event) error
	Close() error
}

type Metrics interface {
	RecordPrediction(symbol, method, outcome string)
	RecordModelPrediction(modelType, outcome string)
	RecordTraining(modelType, outcome string, seconds float64)
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
	SetCachedModels(n int)
}
