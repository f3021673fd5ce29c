package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher enqueues work for background workers.
type Publisher interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers      int           // number of workers
	RetryLimit   int           // number of maximum retries
	RetryDelay   time.Duration // time delay between retries
	PollInterval time.Duration // how often due retries are moved back to the queue
}

// Message represents a message in the queue
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Stats reports queue depths.
type Stats struct {
	Pending    int64 `json:"pending"`
	Retrying   int64 `json:"retrying"`
	DeadLetter int64 `json:"dead_letter"`
}

func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	case []byte:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	case map[string]interface{}:
		jsonData, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal map to json: %w", err)
		}
		if err := json.Unmarshal(jsonData, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal json to struct: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
