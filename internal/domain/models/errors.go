package models

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching across layers.
var (
	ErrValidation        = errors.New("validation failed")
	ErrModelNotFound     = errors.New("model not found")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrEmptyEnsemble     = errors.New("no model predictions available for ensemble")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrUnsupportedFormat = errors.New("unsupported artifact format")
)

// ValidationError reports a malformed request before any model is touched.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ModelNotFoundError is returned for ids absent from the registry.
type ModelNotFoundError struct {
	ModelID string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %s not found", e.ModelID)
}

func (e *ModelNotFoundError) Is(target error) bool { return target == ErrModelNotFound }

// InsufficientDataError is returned when a series is shorter than required.
type InsufficientDataError struct {
	Symbol   string
	Got      int
	Required int
}

func (e *InsufficientDataError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("insufficient data: got %d rows, need %d", e.Got, e.Required)
	}
	return fmt.Sprintf("insufficient data for %s: got %d rows, need %d", e.Symbol, e.Got, e.Required)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// EmptyEnsembleError is returned when aggregation has no predictions to merge.
type EmptyEnsembleError struct {
	Failed int
}

func (e *EmptyEnsembleError) Error() string {
	if e.Failed > 0 {
		return fmt.Sprintf("%s (%d models failed)", ErrEmptyEnsemble.Error(), e.Failed)
	}
	return ErrEmptyEnsemble.Error()
}

func (e *EmptyEnsembleError) Is(target error) bool { return target == ErrEmptyEnsemble }
