package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MatinDeevv/moi/pkg/tasks"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestSQLiteTaskRoundTrip tests that a created task reads back intact,
// including null handling for the optional columns.
func TestSQLiteTaskRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"cmd":"ls"}`)
	created, err := s.CreateTask(ctx, NewTask{
		Title:   "round trip",
		Type:    "shell",
		Payload: payload,
		Tags:    []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	got, err := s.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if got.Title != "round trip" || got.Type != "shell" {
		t.Errorf("Task fields lost: %+v", got)
	}
	if got.Status != tasks.StatusPending {
		t.Errorf("Expected status %q, got %q", tasks.StatusPending, got.Status)
	}
	if string(got.Payload) != string(payload) {
		t.Errorf("Payload changed: %s", got.Payload)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "a" {
		t.Errorf("Tags changed: %v", got.Tags)
	}
	if got.Description != "" || got.ErrorMessage != "" || got.LastRunAt != nil {
		t.Errorf("Optional fields should be empty: %+v", got)
	}
}

// TestSQLiteUpdateTask tests patch application against the relational
// backend.
func TestSQLiteUpdateTask(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	created, err := s.CreateTask(ctx, NewTask{Title: "patch me"})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	failed := tasks.StatusFailed
	msg := "runner exploded"
	updated, err := s.UpdateTask(ctx, created.ID, TaskPatch{
		Status:       &failed,
		ErrorMessage: &msg,
	})
	if err != nil {
		t.Fatalf("Failed to update task: %v", err)
	}
	if updated.Status != tasks.StatusFailed || updated.ErrorMessage != msg {
		t.Errorf("Patch not applied: %+v", updated)
	}

	// Read back to prove the row, not just the returned struct, changed.
	got, err := s.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if got.Status != tasks.StatusFailed || got.ErrorMessage != msg {
		t.Errorf("Row not updated: %+v", got)
	}
}

// TestSQLiteDeleteTask tests delete and the not-found path.
func TestSQLiteDeleteTask(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	created, err := s.CreateTask(ctx, NewTask{Title: "doomed"})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	if err := s.DeleteTask(ctx, created.ID); err != nil {
		t.Fatalf("Failed to delete task: %v", err)
	}
	if err := s.DeleteTask(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestSQLiteListTasks tests the filters pushed into SQL plus the
// in-memory tag filter.
func TestSQLiteListTasks(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	a, _ := s.CreateTask(ctx, NewTask{Title: "a", Type: "shell", Tags: []string{"infra"}})
	if _, err := s.CreateTask(ctx, NewTask{Title: "b"}); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	byType, err := s.ListTasks(ctx, TaskFilter{Type: "shell"})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != a.ID {
		t.Errorf("Type filter returned wrong tasks: %+v", byType)
	}

	byTag, err := s.ListTasks(ctx, TaskFilter{Tag: "infra"})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(byTag) != 1 || byTag[0].ID != a.ID {
		t.Errorf("Tag filter returned wrong tasks: %+v", byTag)
	}
}

// TestSQLiteListTasksTagWithLimit tests that a tagged task older than
// the newest rows still shows up in a tag-filtered list with a limit:
// the limit caps the filtered result, not the rows scanned.
func TestSQLiteListTasksTagWithLimit(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	tagged, err := s.CreateTask(ctx, NewTask{Title: "old tagged", Tags: []string{"infra"}})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	for i := 0; i < 2; i++ {
		time.Sleep(time.Millisecond)
		if _, err := s.CreateTask(ctx, NewTask{Title: "newer untagged"}); err != nil {
			t.Fatalf("Failed to create task: %v", err)
		}
	}

	list, err := s.ListTasks(ctx, TaskFilter{Tag: "infra", Limit: 2})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(list) != 1 || list[0].ID != tagged.ID {
		t.Errorf("Tag filter with limit dropped the tagged task: %+v", list)
	}

	// The limit still caps the filtered set.
	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond)
		if _, err := s.CreateTask(ctx, NewTask{Title: "more tagged", Tags: []string{"infra"}}); err != nil {
			t.Fatalf("Failed to create task: %v", err)
		}
	}
	list, err = s.ListTasks(ctx, TaskFilter{Tag: "infra", Limit: 2})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("Expected limit to cap filtered tasks at 2, got %d", len(list))
	}
}

// TestSQLiteEvents tests the event log on the relational backend.
func TestSQLiteEvents(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	data, _ := json.Marshal(map[string]string{"k": "v"})
	if _, err := s.AppendEvent(ctx, NewEvent{TaskID: "t1", EventType: tasks.EventTaskRunStarted, Data: data}); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	if _, err := s.AppendEvent(ctx, NewEvent{EventType: tasks.EventTaskCreated}); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}

	byTask, err := s.ListEvents(ctx, EventFilter{TaskID: "t1"})
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(byTask) != 1 || byTask[0].EventType != tasks.EventTaskRunStarted {
		t.Errorf("TaskID filter returned wrong events: %+v", byTask)
	}
	if string(byTask[0].Data) != string(data) {
		t.Errorf("Event data changed: %s", byTask[0].Data)
	}
}

// TestSQLiteSettings tests lazy row creation and updates.
func TestSQLiteSettings(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	cfg, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("Failed to get settings: %v", err)
	}
	if cfg.RunnerURL != "" || cfg.RunnerToken != "" {
		t.Errorf("Expected empty initial settings, got %+v", cfg)
	}

	u := "http://localhost:9999"
	cfg, err = s.UpdateSettings(ctx, SettingsPatch{RunnerURL: &u})
	if err != nil {
		t.Fatalf("Failed to update settings: %v", err)
	}
	if cfg.RunnerURL != u {
		t.Errorf("Expected runnerUrl %q, got %q", u, cfg.RunnerURL)
	}

	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("Failed to get settings: %v", err)
	}
	if got.RunnerURL != u {
		t.Errorf("Settings row not persisted: %+v", got)
	}
}

// TestSQLiteCounts tests the health totals.
func TestSQLiteCounts(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, NewTask{Title: "a"}); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if counts.Tasks != 1 || counts.Events != 0 {
		t.Errorf("Expected 1 task and 0 events, got %+v", counts)
	}
}
