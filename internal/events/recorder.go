// Package events records domain events: every append goes to the
// store, and, when a NATS connection is configured, is also published
// so external consumers can follow the workstation's activity.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/MatinDeevv/moi/internal/store"
	"github.com/MatinDeevv/moi/pkg/tasks"
)

// SubjectPrefix is the NATS subject prefix for published events; the
// event type is appended, e.g. moi.events.task_run_completed.
const SubjectPrefix = "moi.events."

// Recorder appends events and optionally mirrors them to NATS.
// Publish failures are logged and never fail the caller: the store
// append is the source of truth.
type Recorder struct {
	store  store.Store
	nc     *nats.Conn
	logger *slog.Logger
}

// NewRecorder creates a recorder. nc may be nil, in which case events
// are only persisted.
func NewRecorder(s store.Store, nc *nats.Conn, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, nc: nc, logger: logger}
}

// Record appends an event with the given type and JSON-marshalable
// data, optionally scoped to a task.
func (r *Recorder) Record(ctx context.Context, taskID, eventType string, data any) (tasks.Event, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			r.logger.Error("failed to encode event data", "event_type", eventType, "error", err)
		} else {
			raw = encoded
		}
	}

	e, err := r.store.AppendEvent(ctx, store.NewEvent{
		TaskID:    taskID,
		EventType: eventType,
		Data:      raw,
	})
	if err != nil {
		return tasks.Event{}, err
	}

	if r.nc != nil {
		payload, err := json.Marshal(e)
		if err == nil {
			err = r.nc.Publish(SubjectPrefix+e.EventType, payload)
		}
		if err != nil {
			r.logger.Warn("event publish failed", "event_type", e.EventType, "error", err)
		}
	}

	return e, nil
}
