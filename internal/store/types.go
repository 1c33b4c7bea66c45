package store

import "time"

// UpdateRecord captures the outcome of one OTA attempt.
type UpdateRecord struct {
	Target      string    `json:"target"`
	FromVersion uint32    `json:"from_version"`
	ToVersion   uint32    `json:"to_version"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	Duration    string    `json:"duration"`
	Error       string    `json:"error,omitempty"`
}
