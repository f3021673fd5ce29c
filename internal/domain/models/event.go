package models

import "time"

type EventType string

const (
	EventModelTrained        EventType = "model.trained"
	EventModelUpdated        EventType = "model.updated"
	EventModelDeleted        EventType = "model.deleted"
	EventModelFailed         EventType = "model.failed"
	EventPredictionCompleted EventType = "prediction.completed"
)

// Event is published on model lifecycle changes and served predictions.
type Event struct {
	Type       EventType `json:"type"`
	Symbol     string    `json:"symbol"`
	ModelID    string    `json:"model_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}
