package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
)

// FileMetadataStore keeps every record in one JSON document keyed by model id.
// Writes replace the file atomically.
type FileMetadataStore struct {
	mu      sync.Mutex
	path    string
	records map[string]*models.ModelRecord
}

// NewFileMetadataStore loads path if it exists and creates its directory otherwise.
func NewFileMetadataStore(path string) (*FileMetadataStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}
	s := &FileMetadataStore{path: path, records: map[string]*models.ModelRecord{}}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &s.records); err != nil {
			return nil, fmt.Errorf("decode metadata %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *FileMetadataStore) Put(_ context.Context, rec *models.ModelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.records[rec.ID]
	s.records[rec.ID] = rec.Clone()
	if err := s.flush(); err != nil {
		if had {
			s.records[rec.ID] = prev
		} else {
			delete(s.records, rec.ID)
		}
		return err
	}
	return nil
}

func (s *FileMetadataStore) Get(_ context.Context, id string) (*models.ModelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, &models.ModelNotFoundError{ModelID: id}
	}
	return rec.Clone(), nil
}

func (s *FileMetadataStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[id]
	if !ok {
		return false, nil
	}
	delete(s.records, id)
	if err := s.flush(); err != nil {
		s.records[id] = prev
		return false, err
	}
	return true, nil
}

func (s *FileMetadataStore) List(_ context.Context) ([]*models.ModelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ModelRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileMetadataStore) Close() error { return nil }

func (s *FileMetadataStore) flush() error {
	b, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return writeFileAtomic(s.path, b)
}

// writeFileAtomic writes to a temp file in the target directory and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

var _ domrepo.MetadataStore = (*FileMetadataStore)(nil)
