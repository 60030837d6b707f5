package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MatinDeevv/moi/pkg/tasks"
)

// SQLiteStore is the single-node relational backend. Same schema
// semantics as Postgres, same JSON-text encoding for payload and tags.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	description   TEXT,
	status        TEXT NOT NULL DEFAULT 'pending',
	type          TEXT NOT NULL DEFAULT 'general',
	payload       TEXT,
	tags          TEXT,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	last_run_at   TIMESTAMP,
	runner_status TEXT,
	output_text   TEXT,
	output_raw    TEXT,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	task_id    TEXT,
	event_type TEXT NOT NULL,
	timestamp  TIMESTAMP NOT NULL,
	data       TEXT
);

CREATE TABLE IF NOT EXISTS settings (
	id           TEXT PRIMARY KEY,
	runner_url   TEXT,
	runner_token TEXT,
	updated_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_events_task_id ON events (task_id);
`

// OpenSQLite opens (or creates) the database file and applies the
// schema. A single write connection avoids SQLITE_BUSY under
// concurrent handlers.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, f TaskFilter) ([]tasks.Task, error) {
	limit := normalizeFilterLimit(f.Limit)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}
	query += " ORDER BY created_at DESC"
	// Tags live in a JSON column and are matched on the decoded rows,
	// so the limit must be applied after that filter, not in SQL.
	if f.Tag == "" {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []tasks.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if f.Tag != "" && !matchTask(t, TaskFilter{Tag: f.Tag}) {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (tasks.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tasks.Task{}, ErrNotFound
	}
	if err != nil {
		return tasks.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, nt NewTask) (tasks.Task, error) {
	if err := validateNewTask(&nt); err != nil {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, type, payload, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, nullString(t.Description), t.Status, t.Type,
		nullRaw(t.Payload), encodeTags(t.Tags), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return tasks.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, p TaskPatch) (tasks.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return tasks.Task{}, err
	}
	applyTaskPatch(&t, p, time.Now().UTC())

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, status = ?, type = ?, payload = ?,
			tags = ?, updated_at = ?, last_run_at = ?, runner_status = ?,
			output_text = ?, output_raw = ?, error_message = ?
		WHERE id = ?
	`, t.Title, nullString(t.Description), t.Status, t.Type, nullRaw(t.Payload),
		encodeTags(t.Tags), t.UpdatedAt, nullTime(t.LastRunAt), nullString(t.RunnerStatus),
		nullString(t.OutputText), nullRaw(t.OutputRaw), nullString(t.ErrorMessage), t.ID)
	if err != nil {
		return tasks.Task{}, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]tasks.Event, error) {
	query := `SELECT id, task_id, event_type, timestamp, data FROM events WHERE 1=1`
	args := []any{}
	if f.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, f.TaskID)
	}
	if f.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, normalizeFilterLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []tasks.Event
	for rows.Next() {
		var e tasks.Event
		var taskID, data sql.NullString
		if err := rows.Scan(&e.ID, &taskID, &e.EventType, &e.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if taskID.Valid {
			e.TaskID = taskID.String
		}
		if data.Valid && data.String != "" {
			e.Data = json.RawMessage(data.String)
		}
		out = append(out, e)
	}
	if out == nil {
		out = []tasks.Event{}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ne NewEvent) (tasks.Event, error) {
	e := tasks.Event{
		ID:        uuid.NewString(),
		TaskID:    ne.TaskID,
		EventType: ne.EventType,
		Timestamp: time.Now().UTC(),
		Data:      ne.Data,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, task_id, event_type, timestamp, data)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, nullString(e.TaskID), e.EventType, e.Timestamp, nullRaw(e.Data))
	if err != nil {
		return tasks.Event{}, fmt.Errorf("append event: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) GetSettings(ctx context.Context) (tasks.Settings, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO settings (id, updated_at) VALUES (?, ?)
	`, settingsRowID, time.Now().UTC())
	if err != nil {
		return tasks.Settings{}, fmt.Errorf("init settings: %w", err)
	}

	var cfg tasks.Settings
	var runnerURL, runnerToken sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT runner_url, runner_token, updated_at FROM settings WHERE id = ?
	`, settingsRowID).Scan(&runnerURL, &runnerToken, &cfg.UpdatedAt)
	if err != nil {
		return tasks.Settings{}, fmt.Errorf("read settings: %w", err)
	}
	if runnerURL.Valid {
		cfg.RunnerURL = runnerURL.String
	}
	if runnerToken.Valid {
		cfg.RunnerToken = runnerToken.String
	}
	return cfg, nil
}

func (s *SQLiteStore) UpdateSettings(ctx context.Context, p SettingsPatch) (tasks.Settings, error) {
	if err := validateSettingsPatch(p); err != nil {
		return tasks.Settings{}, err
	}
	cfg, err := s.GetSettings(ctx)
	if err != nil {
		return tasks.Settings{}, err
	}
	applySettingsPatch(&cfg, p, time.Now().UTC())

	_, err = s.db.ExecContext(ctx, `
		UPDATE settings SET runner_url = ?, runner_token = ?, updated_at = ? WHERE id = ?
	`, nullString(cfg.RunnerURL), nullString(cfg.RunnerToken), cfg.UpdatedAt, settingsRowID)
	if err != nil {
		return tasks.Settings{}, fmt.Errorf("update settings: %w", err)
	}
	return cfg, nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&c.Tasks); err != nil {
		return Counts{}, fmt.Errorf("count tasks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&c.Events); err != nil {
		return Counts{}, fmt.Errorf("count events: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
