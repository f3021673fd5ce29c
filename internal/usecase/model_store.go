package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"
	applogger "FinCast/pkg/logger"
)

// ModelStore pairs the metadata store with the artifact store. Every save writes a new
// artifact path so a failed write never clobbers the last loadable artifact.
type ModelStore struct {
	meta      domrepo.MetadataStore
	artifacts domrepo.ArtifactStore
	l         *applogger.Logger
}

func NewModelStore(meta domrepo.MetadataStore, artifacts domrepo.ArtifactStore, l *applogger.Logger) *ModelStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &ModelStore{meta: meta, artifacts: artifacts, l: l}
}

// ArtifactPath names a fresh artifact for id.
func ArtifactPath(id string, at time.Time) string {
	return fmt.Sprintf("%s/%d.json", id, at.UTC().UnixNano())
}

// Save writes the artifact at rec.ArtifactLocation, then the metadata. When the metadata
// write fails the new artifact is removed again. On success an older artifact at
// previous is deleted.
func (s *ModelStore) Save(ctx context.Context, rec *models.ModelRecord, artifact []byte, previous string) error {
	if err := s.artifacts.Put(ctx, rec.ArtifactLocation, artifact); err != nil {
		return fmt.Errorf("save artifact for %s: %w", rec.ID, err)
	}
	if err := s.meta.Put(ctx, rec); err != nil {
		if derr := s.artifacts.Delete(context.WithoutCancel(ctx), rec.ArtifactLocation); derr != nil {
			s.l.Warn("failed to roll back artifact",
				applogger.String("model_id", rec.ID),
				applogger.String("path", rec.ArtifactLocation),
				applogger.Error(derr),
			)
		}
		return fmt.Errorf("save metadata for %s: %w", rec.ID, err)
	}
	if previous != "" && previous != rec.ArtifactLocation {
		s.deleteArtifact(ctx, rec.ID, previous)
	}
	return nil
}

// PutMetadata persists a record without touching its artifact.
func (s *ModelStore) PutMetadata(ctx context.Context, rec *models.ModelRecord) error {
	if err := s.meta.Put(ctx, rec); err != nil {
		return fmt.Errorf("save metadata for %s: %w", rec.ID, err)
	}
	return nil
}

func (s *ModelStore) Get(ctx context.Context, id string) (*models.ModelRecord, error) {
	return s.meta.Get(ctx, id)
}

func (s *ModelStore) List(ctx context.Context) ([]*models.ModelRecord, error) {
	return s.meta.List(ctx)
}

// LoadArtifact reads the bytes behind rec.
func (s *ModelStore) LoadArtifact(ctx context.Context, rec *models.ModelRecord) ([]byte, error) {
	b, err := s.artifacts.Get(ctx, rec.ArtifactLocation)
	if err != nil {
		return nil, fmt.Errorf("load artifact for %s: %w", rec.ID, err)
	}
	return b, nil
}

// Remove deletes the metadata first so the record never points at a missing artifact.
func (s *ModelStore) Remove(ctx context.Context, rec *models.ModelRecord) (bool, error) {
	ok, err := s.meta.Delete(ctx, rec.ID)
	if err != nil {
		return false, fmt.Errorf("delete metadata for %s: %w", rec.ID, err)
	}
	if rec.ArtifactLocation != "" {
		s.deleteArtifact(ctx, rec.ID, rec.ArtifactLocation)
	}
	return ok, nil
}

func (s *ModelStore) Close() error {
	return s.meta.Close()
}

func (s *ModelStore) deleteArtifact(ctx context.Context, id, path string) {
	err := s.artifacts.Delete(ctx, path)
	if err != nil && !errors.Is(err, models.ErrArtifactNotFound) {
		s.l.Warn("failed to delete artifact",
			applogger.String("model_id", id),
			applogger.String("path", path),
			applogger.Error(err),
		)
	}
}
