package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS model_metadata (
	id         TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	model_type TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	record     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_model_metadata_symbol ON model_metadata (symbol, model_type);
`

// PostgresMetadataStore persists records as JSONB rows.
type PostgresMetadataStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPool creates a pool from dsn and verifies the connection.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewPostgresMetadataStore applies the schema and returns the store. The store owns pool.
func NewPostgresMetadataStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresMetadataStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresMetadataStore{pool: pool}, nil
}

func (s *PostgresMetadataStore) Put(ctx context.Context, rec *models.ModelRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	query := `
		INSERT INTO model_metadata (id, symbol, model_type, status, created_at, updated_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			record = EXCLUDED.record
	`
	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.Symbol, string(rec.Type), string(rec.Status),
		rec.CreatedAt, rec.UpdatedAt, b,
	)
	if err != nil {
		return fmt.Errorf("upsert model %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresMetadataStore) Get(ctx context.Context, id string) (*models.ModelRecord, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM model_metadata WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.ModelNotFoundError{ModelID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", id, err)
	}
	return decodeRecord(raw)
}

func (s *PostgresMetadataStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM model_metadata WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete model %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresMetadataStore) List(ctx context.Context) ([]*models.ModelRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM model_metadata ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []*models.ModelRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresMetadataStore) Close() error {
	s.pool.Close()
	return nil
}

var _ domrepo.MetadataStore = (*PostgresMetadataStore)(nil)
