package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MatinDeevv/moi/pkg/tasks"
)

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports rejected input (empty title, bad URL scheme).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TaskFilter narrows ListTasks results. Zero values mean "no filter".
type TaskFilter struct {
	Status string
	Type   string
	Tag    string
	Limit  int
}

// EventFilter narrows ListEvents results.
type EventFilter struct {
	TaskID    string
	EventType string
	Limit     int
}

// NewTask carries the caller-supplied fields for task creation.
type NewTask struct {
	Title       string
	Description string
	Type        string
	Payload     json.RawMessage
	Tags        []string
}

// TaskPatch is a partial task update. Nil pointers leave the field
// unchanged. Pointing a string field at "" clears it (stored as null),
// mirroring the settings convention. The task id can never change.
type TaskPatch struct {
	Title        *string
	Description  *string
	Status       *string
	Type         *string
	Payload      json.RawMessage
	Tags         *[]string
	LastRunAt    *time.Time
	RunnerStatus *string
	OutputText   *string
	OutputRaw    json.RawMessage
	ErrorMessage *string
}

// NewEvent carries the caller-supplied fields for an event append.
type NewEvent struct {
	TaskID    string
	EventType string
	Data      json.RawMessage
}

// SettingsPatch is a partial settings update. Nil leaves the field
// unchanged; an empty string clears it to null.
type SettingsPatch struct {
	RunnerURL   *string
	RunnerToken *string
}

// Counts holds record totals for the health endpoint.
type Counts struct {
	Tasks  int
	Events int
}

// Store is the storage contract shared by all backends. Stores never
// emit events; recording lifecycle events is the caller's job.
type Store interface {
	ListTasks(ctx context.Context, f TaskFilter) ([]tasks.Task, error)
	GetTask(ctx context.Context, id string) (tasks.Task, error)
	CreateTask(ctx context.Context, nt NewTask) (tasks.Task, error)
	UpdateTask(ctx context.Context, id string, p TaskPatch) (tasks.Task, error)
	DeleteTask(ctx context.Context, id string) error

	ListEvents(ctx context.Context, f EventFilter) ([]tasks.Event, error)
	AppendEvent(ctx context.Context, ne NewEvent) (tasks.Event, error)

	GetSettings(ctx context.Context) (tasks.Settings, error)
	UpdateSettings(ctx context.Context, p SettingsPatch) (tasks.Settings, error)

	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// DefaultListLimit caps list queries that do not specify a limit.
const DefaultListLimit = 100

func validateNewTask(nt *NewTask) error {
	if strings.TrimSpace(nt.Title) == "" {
		return &ValidationError{Msg: "title is required"}
	}
	if nt.Type == "" {
		nt.Type = tasks.DefaultType
	}
	return nil
}

func validateSettingsPatch(p SettingsPatch) error {
	if p.RunnerURL != nil && *p.RunnerURL != "" {
		u := *p.RunnerURL
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return &ValidationError{Msg: fmt.Sprintf("invalid runnerUrl %q: must start with http:// or https://", u)}
		}
	}
	return nil
}

func normalizeFilterLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
