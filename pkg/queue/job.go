package queue

import "context"

// Job defines a queue job handler.
type Job interface {
	// Name returns the unique identifier of the job.
	Name() string

	// Type returns the type of message that the job handles.
	Type() string

	// Handle processes the job with the given payload. A returned error schedules a retry.
	Handle(ctx context.Context, payload interface{}) error
}

// Observer is notified after every handled message.
type Observer func(jobType, outcome string, seconds float64)
