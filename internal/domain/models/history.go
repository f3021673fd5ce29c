package models

import "time"

// HistoryEntry is one stored prediction.
type HistoryEntry struct {
	ID         string              `json:"id"`
	Symbol     string              `json:"symbol"`
	RecordedAt time.Time           `json:"recorded_at"`
	Response   *PredictionResponse `json:"response"`
}
