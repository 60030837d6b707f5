package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MatinDeevv/moi/pkg/tasks"
)

// JSONFileStore persists tasks, events and settings as JSON documents
// under a data directory (tasks.json, events.json, settings.json). It
// is the zero-dependency development backend; writes go through a tmp
// file and rename so a crash never leaves a half-written document.
type JSONFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewJSONFileStore creates the data directory if needed.
func NewJSONFileStore(dir string) (*JSONFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &JSONFileStore{dir: dir}, nil
}

func (s *JSONFileStore) tasksPath() string    { return filepath.Join(s.dir, "tasks.json") }
func (s *JSONFileStore) eventsPath() string   { return filepath.Join(s.dir, "events.json") }
func (s *JSONFileStore) settingsPath() string { return filepath.Join(s.dir, "settings.json") }

func readDoc(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeDoc(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}

func (s *JSONFileStore) loadTasks() ([]tasks.Task, error) {
	var list []tasks.Task
	if err := readDoc(s.tasksPath(), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *JSONFileStore) loadEvents() ([]tasks.Event, error) {
	var list []tasks.Event
	if err := readDoc(s.eventsPath(), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListTasks returns tasks newest-first, filtered and capped.
func (s *JSONFileStore) ListTasks(ctx context.Context, f TaskFilter) ([]tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadTasks()
	if err != nil {
		return nil, err
	}

	out := make([]tasks.Task, 0, len(all))
	for _, t := range all {
		if matchTask(t, f) {
			out = append(out, t)
		}
	}
	sortTasksNewestFirst(out)

	limit := normalizeFilterLimit(f.Limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JSONFileStore) GetTask(ctx context.Context, id string) (tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadTasks()
	if err != nil {
		return tasks.Task{}, err
	}
	for _, t := range all {
		if t.ID == id {
			return t, nil
		}
	}
	return tasks.Task{}, ErrNotFound
}

func (s *JSONFileStore) CreateTask(ctx context.Context, nt NewTask) (tasks.Task, error) {
	if err := validateNewTask(&nt); err != nil {
		return tasks.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadTasks()
	if err != nil {
		return tasks.Task{}, err
	}

	now := time.Now().UTC()
	t := tasks.Task{
		ID:          uuid.NewString(),
		Title:       nt.Title,
		Description: nt.Description,
		Status:      tasks.StatusPending,
		Type:        nt.Type,
		Payload:     nt.Payload,
		Tags:        nt.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}

	all = append(all, t)
	if err := writeDoc(s.tasksPath(), all); err != nil {
		return tasks.Task{}, err
	}
	return t, nil
}

func (s *JSONFileStore) UpdateTask(ctx context.Context, id string, p TaskPatch) (tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadTasks()
	if err != nil {
		return tasks.Task{}, err
	}
	for i := range all {
		if all[i].ID != id {
			continue
		}
		applyTaskPatch(&all[i], p, time.Now().UTC())
		if err := writeDoc(s.tasksPath(), all); err != nil {
			return tasks.Task{}, err
		}
		return all[i], nil
	}
	return tasks.Task{}, ErrNotFound
}

func (s *JSONFileStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadTasks()
	if err != nil {
		return err
	}
	for i := range all {
		if all[i].ID == id {
			all = append(all[:i], all[i+1:]...)
			return writeDoc(s.tasksPath(), all)
		}
	}
	return ErrNotFound
}

func (s *JSONFileStore) ListEvents(ctx context.Context, f EventFilter) ([]tasks.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadEvents()
	if err != nil {
		return nil, err
	}

	out := make([]tasks.Event, 0, len(all))
	for _, e := range all {
		if matchEvent(e, f) {
			out = append(out, e)
		}
	}
	sortEventsNewestFirst(out)

	limit := normalizeFilterLimit(f.Limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JSONFileStore) AppendEvent(ctx context.Context, ne NewEvent) (tasks.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadEvents()
	if err != nil {
		return tasks.Event{}, err
	}

	e := tasks.Event{
		ID:        uuid.NewString(),
		TaskID:    ne.TaskID,
		EventType: ne.EventType,
		Timestamp: time.Now().UTC(),
		Data:      ne.Data,
	}
	all = append(all, e)
	if err := writeDoc(s.eventsPath(), all); err != nil {
		return tasks.Event{}, err
	}
	return e, nil
}

// GetSettings lazily creates the default empty record on first access.
func (s *JSONFileStore) GetSettings(ctx context.Context) (tasks.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOrInitSettings()
}

func (s *JSONFileStore) loadOrInitSettings() (tasks.Settings, error) {
	var cfg tasks.Settings
	if err := readDoc(s.settingsPath(), &cfg); err != nil {
		return tasks.Settings{}, err
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
		if err := writeDoc(s.settingsPath(), cfg); err != nil {
			return tasks.Settings{}, err
		}
	}
	return cfg, nil
}

func (s *JSONFileStore) UpdateSettings(ctx context.Context, p SettingsPatch) (tasks.Settings, error) {
	if err := validateSettingsPatch(p); err != nil {
		return tasks.Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadOrInitSettings()
	if err != nil {
		return tasks.Settings{}, err
	}
	applySettingsPatch(&cfg, p, time.Now().UTC())
	if err := writeDoc(s.settingsPath(), cfg); err != nil {
		return tasks.Settings{}, err
	}
	return cfg, nil
}

func (s *JSONFileStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskList, err := s.loadTasks()
	if err != nil {
		return Counts{}, err
	}
	eventList, err := s.loadEvents()
	if err != nil {
		return Counts{}, err
	}
	return Counts{Tasks: len(taskList), Events: len(eventList)}, nil
}

func (s *JSONFileStore) Close() error { return nil }

var _ Store = (*JSONFileStore)(nil)
