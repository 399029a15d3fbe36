package stores

import (
	"time"
)

// RunRecord is a persisted bootstrap run.
type RunRecord struct {
	ID           string     `json:"id"`
	Mode         string     `json:"mode"`
	State        string     `json:"state"`
	ManifestPath string     `json:"manifest_path"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// StepRecord is a persisted step result within a run.
type StepRecord struct {
	RunID       string     `json:"run_id"`
	Position    int        `json:"position"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	Error       *string    `json:"error,omitempty"`
	Output      *string    `json:"output,omitempty"`
}

// EventRecord is an append-only timeline event.
type EventRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
