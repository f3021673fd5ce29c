package forecast

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

// Constructor builds an untrained model from its opaque config.
type Constructor func(cfg map[string]any) (domsvc.Model, error)

// Option configures Factory.
type Option func(*Factory)

// Factory creates model instances by type.
type Factory struct {
	mu    sync.RWMutex
	ctors map[models.ModelType]Constructor
}

// NewFactory registers every built-in family. The remote family is only available after
// WithRemoteService.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{ctors: map[models.ModelType]Constructor{
		models.ModelTypeLinear:       func(cfg map[string]any) (domsvc.Model, error) { return NewLinear(cfg), nil },
		models.ModelTypeARIMA:        func(cfg map[string]any) (domsvc.Model, error) { return NewAutoregressive(cfg), nil },
		models.ModelTypeGARCH:        func(cfg map[string]any) (domsvc.Model, error) { return NewGARCH(cfg), nil },
		models.ModelTypeRandomForest: func(cfg map[string]any) (domsvc.Model, error) { return NewRandomForest(cfg), nil },
		models.ModelTypeXGBoost:      func(cfg map[string]any) (domsvc.Model, error) { return NewBoosted(cfg), nil },
		models.ModelTypeLSTM:         func(cfg map[string]any) (domsvc.Model, error) { return NewSequence(cfg), nil },
	}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithConstructor registers or replaces the constructor for t.
func WithConstructor(t models.ModelType, ctor Constructor) Option {
	return func(f *Factory) {
		f.ctors[t] = ctor
	}
}

// WithRemoteService enables the remote family against an inference service at baseURL.
func WithRemoteService(baseURL string, timeout time.Duration, apiKey string) Option {
	return func(f *Factory) {
		if baseURL == "" {
			return
		}
		client := NewRemoteClient(baseURL, timeout, apiKey)
		f.ctors[models.ModelTypeRemote] = func(cfg map[string]any) (domsvc.Model, error) {
			return NewRemote(client, cfg), nil
		}
	}
}

// Create returns a fresh, untrained instance.
func (f *Factory) Create(t models.ModelType, cfg map[string]any) (domsvc.Model, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[t]
	f.mu.RUnlock()
	if !ok {
		return nil, models.NewValidationError("model_type", fmt.Sprintf("model type %q is not available", t))
	}
	m, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", t, err)
	}
	return m, nil
}

// Supports reports whether t can be created.
func (f *Factory) Supports(t models.ModelType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ctors[t]
	return ok
}

// Types lists the available families in a stable order.
func (f *Factory) Types() []models.ModelType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.ModelType, 0, len(f.ctors))
	for t := range f.ctors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var _ domsvc.ModelFactory = (*Factory)(nil)
