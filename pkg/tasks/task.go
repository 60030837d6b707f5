package tasks

import (
	"encoding/json"
	"time"
)

// Task represents a unit of work tracked by the workstation. Execution
// is delegated to the external runner; the workstation only tracks the
// lifecycle and the last run's result.
type Task struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Status       string          `json:"status"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Tags         []string        `json:"tags"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	LastRunAt    *time.Time      `json:"lastRunAt,omitempty"`
	RunnerStatus string          `json:"runnerStatus,omitempty"`
	OutputText   string          `json:"outputText,omitempty"`
	OutputRaw    json.RawMessage `json:"outputRaw,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// Event is an append-only log entry recording a state change.
type Event struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"taskId,omitempty"`
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Settings holds the runner connection configuration. A single global
// record; the token is masked at the API boundary, never in storage.
type Settings struct {
	RunnerURL   string    `json:"runnerUrl,omitempty"`
	RunnerToken string    `json:"runnerToken,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Task status constants
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DefaultType is assigned when a task is created without a type.
const DefaultType = "general"

// Event type constants
const (
	EventTaskCreated      = "task_created"
	EventTaskUpdated      = "task_updated"
	EventTaskDeleted      = "task_deleted"
	EventTaskRunStarted   = "task_run_started"
	EventTaskRunCompleted = "task_run_completed"
	EventTaskRunFailed    = "task_run_failed"
)

// ValidStatus reports whether s is one of the four lifecycle states.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
