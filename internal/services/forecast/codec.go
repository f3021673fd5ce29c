package forecast

import (
	"encoding/json"
	"fmt"
	"time"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
)

// ArtifactFormat is the current envelope version.
const ArtifactFormat = 1

type envelope struct {
	Format  int              `json:"format"`
	Type    models.ModelType `json:"type"`
	SavedAt time.Time        `json:"saved_at"`
	State   json.RawMessage  `json:"state"`
}

// Marshal serializes a model into a versioned artifact.
func (f *Factory) Marshal(m domsvc.Model) ([]byte, error) {
	state, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s state: %w", m.Type(), err)
	}
	b, err := json.Marshal(envelope{
		Format:  ArtifactFormat,
		Type:    m.Type(),
		SavedAt: time.Now().UTC(),
		State:   state,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return b, nil
}

// Unmarshal decodes an artifact produced by Marshal.
func (f *Factory) Unmarshal(b []byte) (domsvc.Model, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if env.Format != ArtifactFormat {
		return nil, fmt.Errorf("%w: format %d", models.ErrUnsupportedFormat, env.Format)
	}
	m, err := f.Create(env.Type, nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.State, m); err != nil {
		return nil, fmt.Errorf("decode %s state: %w", env.Type, err)
	}
	return m, nil
}

// Clone deep-copies a model through the codec.
func (f *Factory) Clone(m domsvc.Model) (domsvc.Model, error) {
	b, err := f.Marshal(m)
	if err != nil {
		return nil, err
	}
	return f.Unmarshal(b)
}
