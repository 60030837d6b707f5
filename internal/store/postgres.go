package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/MatinDeevv/moi/pkg/tasks"
)

// PostgresStore is the production backend, backed by database/sql and
// lib/pq. Payload, tags and raw runner output are stored as JSON text
// columns; that encoding never leaks past this file.
type PostgresStore struct {
	db *sql.DB
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	description   TEXT,
	status        TEXT NOT NULL DEFAULT 'pending',
	type          TEXT NOT NULL DEFAULT 'general',
	payload       TEXT,
	tags          TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_run_at   TIMESTAMPTZ,
	runner_status TEXT,
	output_text   TEXT,
	output_raw    TEXT,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	task_id    TEXT,
	event_type TEXT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	data       TEXT
);

CREATE TABLE IF NOT EXISTS settings (
	id           TEXT PRIMARY KEY,
	runner_url   TEXT,
	runner_token TEXT,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_events_task_id ON events (task_id);
`

// OpenPostgres connects, pings and applies the schema. Schema setup is
// idempotent and safe to run concurrently from multiple instances.
func OpenPostgres(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

const taskColumns = `id, title, description, status, type, payload, tags,
	created_at, updated_at, last_run_at, runner_status, output_text, output_raw, error_message`

func scanTask(row interface{ Scan(...any) error }) (tasks.Task, error) {
	var t tasks.Task
	var description, payload, tags, runnerStatus, outputText, outputRaw, errorMessage sql.NullString
	var lastRunAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Title, &description, &t.Status, &t.Type, &payload, &tags,
		&t.CreatedAt, &t.UpdatedAt, &lastRunAt, &runnerStatus, &outputText, &outputRaw, &errorMessage,
	)
	if err != nil {
		return tasks.Task{}, err
	}

	if description.Valid {
		t.Description = description.String
	}
	if payload.Valid && payload.String != "" {
		t.Payload = json.RawMessage(payload.String)
	}
	t.Tags = []string{}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &t.Tags); err != nil {
			return tasks.Task{}, fmt.Errorf("decode tags for task %s: %w", t.ID, err)
		}
	}
	if lastRunAt.Valid {
		t.LastRunAt = &lastRunAt.Time
	}
	if runnerStatus.Valid {
		t.RunnerStatus = runnerStatus.String
	}
	if outputText.Valid {
		t.OutputText = outputText.String
	}
	if outputRaw.Valid && outputRaw.String != "" {
		t.OutputRaw = json.RawMessage(outputRaw.String)
	}
	if errorMessage.Valid {
		t.ErrorMessage = errorMessage.String
	}
	return t, nil
}

// nullString maps "" to NULL so cleared fields are not stored as
// empty strings.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func encodeTags(tags []string) sql.NullString {
	if tags == nil {
		tags = []string{}
	}
	data, _ := json.Marshal(tags)
	return sql.NullString{String: string(data), Valid: true}
}

func (s *PostgresStore) ListTasks(ctx context.Context, f TaskFilter) ([]tasks.Task, error) {
	limit := normalizeFilterLimit(f.Limit)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	// Tags live in a JSON column and are matched on the decoded rows,
	// so the limit must be applied after that filter, not in SQL.
	if f.Tag == "" {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
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

func (s *PostgresStore) GetTask(ctx context.Context, id string) (tasks.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tasks.Task{}, ErrNotFound
	}
	if err != nil {
		return tasks.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, nt NewTask) (tasks.Task, error) {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.Title, nullString(t.Description), t.Status, t.Type,
		nullRaw(t.Payload), encodeTags(t.Tags), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return tasks.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, id string, p TaskPatch) (tasks.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return tasks.Task{}, err
	}
	applyTaskPatch(&t, p, time.Now().UTC())

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, status = $4, type = $5, payload = $6,
			tags = $7, updated_at = $8, last_run_at = $9, runner_status = $10,
			output_text = $11, output_raw = $12, error_message = $13
		WHERE id = $1
	`, t.ID, t.Title, nullString(t.Description), t.Status, t.Type, nullRaw(t.Payload),
		encodeTags(t.Tags), t.UpdatedAt, nullTime(t.LastRunAt), nullString(t.RunnerStatus),
		nullString(t.OutputText), nullRaw(t.OutputRaw), nullString(t.ErrorMessage))
	if err != nil {
		return tasks.Task{}, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]tasks.Event, error) {
	query := `SELECT id, task_id, event_type, timestamp, data FROM events WHERE 1=1`
	args := []any{}
	if f.TaskID != "" {
		args = append(args, f.TaskID)
		query += fmt.Sprintf(" AND task_id = $%d", len(args))
	}
	if f.EventType != "" {
		args = append(args, f.EventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	args = append(args, normalizeFilterLimit(f.Limit))
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

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

func (s *PostgresStore) AppendEvent(ctx context.Context, ne NewEvent) (tasks.Event, error) {
	e := tasks.Event{
		ID:        uuid.NewString(),
		TaskID:    ne.TaskID,
		EventType: ne.EventType,
		Timestamp: time.Now().UTC(),
		Data:      ne.Data,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, task_id, event_type, timestamp, data)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, nullString(e.TaskID), e.EventType, e.Timestamp, nullRaw(e.Data))
	if err != nil {
		return tasks.Event{}, fmt.Errorf("append event: %w", err)
	}
	return e, nil
}

const settingsRowID = "default"

func (s *PostgresStore) GetSettings(ctx context.Context) (tasks.Settings, error) {
	// Lazy singleton init: create-if-not-exists, not check-then-create,
	// so concurrent first reads from multiple instances are safe.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, updated_at) VALUES ($1, NOW())
		ON CONFLICT (id) DO NOTHING
	`, settingsRowID)
	if err != nil {
		return tasks.Settings{}, fmt.Errorf("init settings: %w", err)
	}
	return s.readSettings(ctx)
}

func (s *PostgresStore) readSettings(ctx context.Context) (tasks.Settings, error) {
	var cfg tasks.Settings
	var runnerURL, runnerToken sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT runner_url, runner_token, updated_at FROM settings WHERE id = $1
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

func (s *PostgresStore) UpdateSettings(ctx context.Context, p SettingsPatch) (tasks.Settings, error) {
	if err := validateSettingsPatch(p); err != nil {
		return tasks.Settings{}, err
	}
	cfg, err := s.GetSettings(ctx)
	if err != nil {
		return tasks.Settings{}, err
	}
	applySettingsPatch(&cfg, p, time.Now().UTC())

	_, err = s.db.ExecContext(ctx, `
		UPDATE settings SET runner_url = $2, runner_token = $3, updated_at = $4 WHERE id = $1
	`, settingsRowID, nullString(cfg.RunnerURL), nullString(cfg.RunnerToken), cfg.UpdatedAt)
	if err != nil {
		return tasks.Settings{}, fmt.Errorf("update settings: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&c.Tasks); err != nil {
		return Counts{}, fmt.Errorf("count tasks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&c.Events); err != nil {
		return Counts{}, fmt.Errorf("count events: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

var _ Store = (*PostgresStore)(nil)
