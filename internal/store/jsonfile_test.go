package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MatinDeevv/moi/pkg/tasks"
)

func newTestStore(t *testing.T) *JSONFileStore {
	t.Helper()
	s, err := NewJSONFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

// TestCreateTask tests creation defaults: pending status, default type,
// matching timestamps.
func TestCreateTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, NewTask{Title: "hello"})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if task.ID == "" {
		t.Fatal("Task ID should not be empty")
	}
	if task.Status != tasks.StatusPending {
		t.Errorf("Expected status %q, got %q", tasks.StatusPending, task.Status)
	}
	if task.Type != tasks.DefaultType {
		t.Errorf("Expected type %q, got %q", tasks.DefaultType, task.Type)
	}
	if !task.CreatedAt.Equal(task.UpdatedAt) {
		t.Errorf("Expected createdAt == updatedAt, got %v and %v", task.CreatedAt, task.UpdatedAt)
	}
	if task.Tags == nil {
		t.Error("Tags should be an empty slice, not nil")
	}

	// Second create must get a distinct id.
	other, err := s.CreateTask(ctx, NewTask{Title: "world"})
	if err != nil {
		t.Fatalf("Failed to create second task: %v", err)
	}
	if other.ID == task.ID {
		t.Error("Task IDs should be unique")
	}
}

// TestCreateTaskValidation tests that a blank title is rejected.
func TestCreateTaskValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateTask(context.Background(), NewTask{Title: "   "})
	if err == nil {
		t.Fatal("Expected a validation error for blank title")
	}
	if !IsValidation(err) {
		t.Errorf("Expected ValidationError, got %T: %v", err, err)
	}
}

// TestUpdateTask tests partial patches and id immutability.
func TestUpdateTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, NewTask{Title: "original", Description: "desc"})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	newTitle := "renamed"
	running := tasks.StatusRunning
	updated, err := s.UpdateTask(ctx, task.ID, TaskPatch{
		Title:  &newTitle,
		Status: &running,
	})
	if err != nil {
		t.Fatalf("Failed to update task: %v", err)
	}

	if updated.ID != task.ID {
		t.Errorf("Task id changed: %q -> %q", task.ID, updated.ID)
	}
	if updated.Title != "renamed" {
		t.Errorf("Expected title %q, got %q", "renamed", updated.Title)
	}
	if updated.Status != tasks.StatusRunning {
		t.Errorf("Expected status %q, got %q", tasks.StatusRunning, updated.Status)
	}
	if updated.Description != "desc" {
		t.Errorf("Unpatched field changed: %q", updated.Description)
	}
	if !updated.UpdatedAt.After(task.UpdatedAt) && !updated.UpdatedAt.Equal(task.UpdatedAt) {
		t.Error("UpdatedAt should be refreshed")
	}

	// Blank title in a patch leaves the current title alone.
	blank := "  "
	updated, err = s.UpdateTask(ctx, task.ID, TaskPatch{Title: &blank})
	if err != nil {
		t.Fatalf("Failed to update task: %v", err)
	}
	if updated.Title != "renamed" {
		t.Errorf("Blank title should be ignored, got %q", updated.Title)
	}

	// Pointing a string field at "" clears it.
	msg := "boom"
	if _, err := s.UpdateTask(ctx, task.ID, TaskPatch{ErrorMessage: &msg}); err != nil {
		t.Fatalf("Failed to update task: %v", err)
	}
	clear := ""
	updated, err = s.UpdateTask(ctx, task.ID, TaskPatch{ErrorMessage: &clear})
	if err != nil {
		t.Fatalf("Failed to update task: %v", err)
	}
	if updated.ErrorMessage != "" {
		t.Errorf("Expected cleared errorMessage, got %q", updated.ErrorMessage)
	}
}

// TestUpdateTaskNotFound tests the missing-id error.
func TestUpdateTaskNotFound(t *testing.T) {
	s := newTestStore(t)

	title := "x"
	_, err := s.UpdateTask(context.Background(), "no-such-id", TaskPatch{Title: &title})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestDeleteTask tests deletion and that a second delete reports
// not found.
func TestDeleteTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, NewTask{Title: "doomed"})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("Failed to delete task: %v", err)
	}
	if _, err := s.GetTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

// TestListTasksFilters tests status, type and tag filters plus limit.
func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateTask(ctx, NewTask{Title: "a", Type: "shell", Tags: []string{"infra"}})
	b, _ := s.CreateTask(ctx, NewTask{Title: "b", Type: "general"})
	running := tasks.StatusRunning
	if _, err := s.UpdateTask(ctx, b.ID, TaskPatch{Status: &running}); err != nil {
		t.Fatalf("Failed to update task: %v", err)
	}

	byType, err := s.ListTasks(ctx, TaskFilter{Type: "shell"})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != a.ID {
		t.Errorf("Type filter returned wrong tasks: %+v", byType)
	}

	byStatus, err := s.ListTasks(ctx, TaskFilter{Status: tasks.StatusRunning})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != b.ID {
		t.Errorf("Status filter returned wrong tasks: %+v", byStatus)
	}

	byTag, err := s.ListTasks(ctx, TaskFilter{Tag: "infra"})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(byTag) != 1 || byTag[0].ID != a.ID {
		t.Errorf("Tag filter returned wrong tasks: %+v", byTag)
	}

	limited, err := s.ListTasks(ctx, TaskFilter{Limit: 1})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 task with limit=1, got %d", len(limited))
	}
}

// TestAppendAndListEvents tests the append-only log and its filters.
func TestAppendAndListEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data, _ := json.Marshal(map[string]string{"title": "a"})
	e1, err := s.AppendEvent(ctx, NewEvent{TaskID: "t1", EventType: tasks.EventTaskCreated, Data: data})
	if err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}
	if e1.ID == "" || e1.Timestamp.IsZero() {
		t.Fatalf("Event missing id or timestamp: %+v", e1)
	}

	if _, err := s.AppendEvent(ctx, NewEvent{TaskID: "t2", EventType: tasks.EventTaskDeleted}); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}

	all, err := s.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(all))
	}

	byTask, err := s.ListEvents(ctx, EventFilter{TaskID: "t1"})
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(byTask) != 1 || byTask[0].EventType != tasks.EventTaskCreated {
		t.Errorf("TaskID filter returned wrong events: %+v", byTask)
	}

	byType, err := s.ListEvents(ctx, EventFilter{EventType: tasks.EventTaskDeleted})
	if err != nil {
		t.Fatalf("Failed to list events: %v", err)
	}
	if len(byType) != 1 || byType[0].TaskID != "t2" {
		t.Errorf("EventType filter returned wrong events: %+v", byType)
	}
}

// TestSettings tests lazy initialization, partial updates and URL
// validation.
func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("Failed to get settings: %v", err)
	}
	if cfg.RunnerURL != "" || cfg.RunnerToken != "" {
		t.Errorf("Expected empty initial settings, got %+v", cfg)
	}
	if cfg.UpdatedAt.IsZero() {
		t.Error("Initial settings should carry a timestamp")
	}

	u := "https://runner.example.com"
	tok := "secret"
	cfg, err = s.UpdateSettings(ctx, SettingsPatch{RunnerURL: &u, RunnerToken: &tok})
	if err != nil {
		t.Fatalf("Failed to update settings: %v", err)
	}
	if cfg.RunnerURL != u || cfg.RunnerToken != tok {
		t.Errorf("Settings not applied: %+v", cfg)
	}

	// Updating only the token leaves the URL alone.
	tok2 := "rotated"
	cfg, err = s.UpdateSettings(ctx, SettingsPatch{RunnerToken: &tok2})
	if err != nil {
		t.Fatalf("Failed to update settings: %v", err)
	}
	if cfg.RunnerURL != u {
		t.Errorf("Partial update clobbered runnerUrl: %q", cfg.RunnerURL)
	}
	if cfg.RunnerToken != "rotated" {
		t.Errorf("Expected rotated token, got %q", cfg.RunnerToken)
	}

	// Empty string clears the field.
	clear := ""
	cfg, err = s.UpdateSettings(ctx, SettingsPatch{RunnerURL: &clear})
	if err != nil {
		t.Fatalf("Failed to update settings: %v", err)
	}
	if cfg.RunnerURL != "" {
		t.Errorf("Expected cleared runnerUrl, got %q", cfg.RunnerURL)
	}

	bad := "ftp://runner"
	if _, err := s.UpdateSettings(ctx, SettingsPatch{RunnerURL: &bad}); !IsValidation(err) {
		t.Errorf("Expected ValidationError for %q, got %v", bad, err)
	}
}

// TestCounts tests the totals used by the health endpoint.
func TestCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, NewTask{Title: "a"}); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	if _, err := s.AppendEvent(ctx, NewEvent{EventType: tasks.EventTaskCreated}); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if counts.Tasks != 1 || counts.Events != 1 {
		t.Errorf("Expected 1 task and 1 event, got %+v", counts)
	}
}

// TestSortNewestFirst tests the list ordering shared by all backends.
func TestSortNewestFirst(t *testing.T) {
	now := time.Now().UTC()
	list := []tasks.Task{
		{ID: "old", CreatedAt: now.Add(-time.Hour)},
		{ID: "new", CreatedAt: now},
	}
	sortTasksNewestFirst(list)
	if list[0].ID != "new" {
		t.Errorf("Expected newest task first, got %q", list[0].ID)
	}
}
