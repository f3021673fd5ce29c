package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
)

// FSArtifactStore stores artifacts as files under a root directory.
type FSArtifactStore struct {
	root string
}

func NewFSArtifactStore(root string) (*FSArtifactStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FSArtifactStore{root: root}, nil
}

// resolve keeps artifact paths inside root.
func (s *FSArtifactStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if clean == "/" || strings.Contains(path, "..") {
		return "", fmt.Errorf("invalid artifact path %q", path)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSArtifactStore) Put(_ context.Context, path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	return writeFileAtomic(full, data)
}

func (s *FSArtifactStore) Get(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrArtifactNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return b, nil
}

func (s *FSArtifactStore) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete artifact %s: %w", path, err)
	}
	// drop the per-model directory once it is empty; Remove fails harmlessly otherwise
	if dir := filepath.Dir(full); dir != filepath.Clean(s.root) {
		_ = os.Remove(dir)
	}
	return nil
}

var _ domrepo.ArtifactStore = (*FSArtifactStore)(nil)
