package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"

	_ "modernc.org/sqlite"
)

// SQLiteMetadataStore persists records in a single-file SQLite database.
type SQLiteMetadataStore struct {
	db *sql.DB
}

// NewSQLiteMetadataStore opens (or creates) the database at path and runs migrations.
func NewSQLiteMetadataStore(ctx context.Context, path string) (*SQLiteMetadataStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteMetadataStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteMetadataStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS model_metadata (
			id         TEXT PRIMARY KEY,
			symbol     TEXT NOT NULL,
			model_type TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			record     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_model_metadata_symbol ON model_metadata(symbol, model_type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteMetadataStore) Put(ctx context.Context, rec *models.ModelRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_metadata (id, symbol, model_type, status, created_at, updated_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			record = excluded.record`,
		rec.ID, rec.Symbol, string(rec.Type), string(rec.Status),
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(), string(b),
	)
	if err != nil {
		return fmt.Errorf("upsert model %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteMetadataStore) Get(ctx context.Context, id string) (*models.ModelRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM model_metadata WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.ModelNotFoundError{ModelID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", id, err)
	}
	return decodeRecord([]byte(raw))
}

func (s *SQLiteMetadataStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_metadata WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete model %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete model %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLiteMetadataStore) List(ctx context.Context) ([]*models.ModelRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM model_metadata ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []*models.ModelRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}

func decodeRecord(b []byte) (*models.ModelRecord, error) {
	var rec models.ModelRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

var _ domrepo.MetadataStore = (*SQLiteMetadataStore)(nil)
