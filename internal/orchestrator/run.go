// Package orchestrator drives the run-task state machine: load the
// task, mark it running, call the runner once, and record the outcome
// as both task state and events. There is no retry and no queue; the
// single branch point is the success or failure of that one call.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MatinDeevv/moi/internal/events"
	"github.com/MatinDeevv/moi/internal/runner"
	"github.com/MatinDeevv/moi/internal/store"
	"github.com/MatinDeevv/moi/pkg/tasks"
)

// Service executes tasks via the external runner.
type Service struct {
	store    store.Store
	client   *runner.Client
	recorder *events.Recorder
	fallback runner.Config
	metrics  *Metrics
	logger   *slog.Logger

	// Concurrent runs of the same task id serialize on a per-id lock
	// so two requests cannot race the final status write. Entries are
	// refcounted and removed once no run holds or waits on them.
	locksMu  sync.Mutex
	runLocks map[string]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

// NewService wires the orchestrator. fallback supplies the
// environment-level runner endpoint used when settings hold none.
func NewService(s store.Store, client *runner.Client, recorder *events.Recorder, fallback runner.Config, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		client:   client,
		recorder: recorder,
		fallback: fallback,
		metrics:  metrics,
		logger:   logger,
		runLocks: make(map[string]*taskLock),
	}
}

// ResolveConfig returns the runner endpoint for a call: stored
// settings first, environment fallback second.
func ResolveConfig(ctx context.Context, s store.Store, fallback runner.Config) (runner.Config, error) {
	cfg, err := s.GetSettings(ctx)
	if err != nil {
		return runner.Config{}, fmt.Errorf("load settings: %w", err)
	}
	resolved := runner.Config{BaseURL: cfg.RunnerURL, Token: cfg.RunnerToken}
	if resolved.BaseURL == "" {
		resolved.BaseURL = fallback.BaseURL
	}
	if resolved.Token == "" {
		resolved.Token = fallback.Token
	}
	return resolved, nil
}

// RunnerConfig resolves the endpoint using the service's fallback.
func (s *Service) RunnerConfig(ctx context.Context) (runner.Config, error) {
	return ResolveConfig(ctx, s.store, s.fallback)
}

// RunResult is the outcome of a run: the task in its final state and,
// when the runner answered, its raw response.
type RunResult struct {
	Task           tasks.Task
	RunnerResponse runner.Body
}

func (s *Service) lockTask(id string) *taskLock {
	s.locksMu.Lock()
	l, ok := s.runLocks[id]
	if !ok {
		l = &taskLock{}
		s.runLocks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Service) unlockTask(id string, l *taskLock) {
	l.mu.Unlock()

	s.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.runLocks, id)
	}
	s.locksMu.Unlock()
}

// Run executes the task with the given id. On runner failure the
// returned error is the runner failure and RunResult.Task carries the
// partially-updated (failed) task.
func (s *Service) Run(ctx context.Context, id string) (RunResult, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return RunResult{}, err
	}

	cfg, err := s.RunnerConfig(ctx)
	if err != nil {
		return RunResult{Task: task}, err
	}
	if !cfg.Configured() {
		// No state change and no event: the transition never started.
		return RunResult{Task: task}, runner.ErrNotConfigured
	}

	l := s.lockTask(id)
	defer s.unlockTask(id, l)

	// Payload reflects the task as it was before the transition.
	payload := map[string]any{
		"taskId":      task.ID,
		"title":       task.Title,
		"description": task.Description,
		"type":        task.Type,
		"payload":     task.Payload,
		"createdAt":   task.CreatedAt,
		"metadata": map[string]any{
			"tags":   task.Tags,
			"status": task.Status,
		},
	}

	now := time.Now().UTC()
	running := tasks.StatusRunning
	task, err = s.store.UpdateTask(ctx, id, store.TaskPatch{
		Status:    &running,
		LastRunAt: &now,
	})
	if err != nil {
		return RunResult{Task: task}, err
	}

	s.metrics.runStarted()
	s.record(ctx, id, tasks.EventTaskRunStarted, map[string]any{
		"runnerUrl": cfg.BaseURL,
	})
	s.logger.Info("task run started", "task_id", id, "type", task.Type)

	start := time.Now()
	body, runErr := s.client.RunTask(ctx, cfg, payload)
	s.metrics.runFinished(time.Since(start), runErr == nil)

	if runErr != nil {
		return s.finishFailed(ctx, id, runErr)
	}
	return s.finishCompleted(ctx, id, body)
}

func (s *Service) finishFailed(ctx context.Context, id string, runErr error) (RunResult, error) {
	failed := tasks.StatusFailed
	errMsg := runErr.Error()
	runnerStatus := "error: " + errMsg
	clear := ""

	task, err := s.store.UpdateTask(ctx, id, store.TaskPatch{
		Status:       &failed,
		ErrorMessage: &errMsg,
		RunnerStatus: &runnerStatus,
		OutputText:   &clear,
	})
	if err != nil {
		return RunResult{}, err
	}

	s.record(ctx, id, tasks.EventTaskRunFailed, map[string]any{
		"error": errMsg,
	})
	s.logger.Error("task run failed", "task_id", id, "error", errMsg)

	return RunResult{Task: task}, runErr
}

func (s *Service) finishCompleted(ctx context.Context, id string, body runner.Body) (RunResult, error) {
	reported := body.Str("status")
	if reported == "" {
		reported = tasks.StatusCompleted
	}

	final := tasks.StatusCompleted
	if reported == tasks.StatusFailed || body["error"] != nil {
		final = tasks.StatusFailed
	} else if tasks.ValidStatus(reported) {
		final = reported
	}

	outputText, extracted := runner.ExtractOutput(body)
	outputRaw, _ := jsonMarshal(body)

	finishedAt := time.Now().UTC()
	if reportedFinish := body.Str("finishedAt"); reportedFinish != "" {
		if ts, err := time.Parse(time.RFC3339, reportedFinish); err == nil {
			finishedAt = ts.UTC()
		}
	}

	clear := ""
	patch := store.TaskPatch{
		Status:       &final,
		RunnerStatus: &reported,
		OutputRaw:    outputRaw,
		LastRunAt:    &finishedAt,
		ErrorMessage: &clear,
	}
	if extracted {
		patch.OutputText = &outputText
	} else {
		patch.OutputText = &clear
	}
	if final == tasks.StatusFailed {
		if e := body.Str("error"); e != "" {
			patch.ErrorMessage = &e
		}
	}

	task, err := s.store.UpdateTask(ctx, id, patch)
	if err != nil {
		return RunResult{}, err
	}

	s.record(ctx, id, tasks.EventTaskRunCompleted, map[string]any{
		"runnerStatus":    reported,
		"taskStatus":      task.Status,
		"outputExtracted": extracted,
	})
	s.logger.Info("task run finished", "task_id", id, "status", task.Status, "output_extracted", extracted)

	return RunResult{Task: task, RunnerResponse: body}, nil
}

func (s *Service) record(ctx context.Context, taskID, eventType string, data any) {
	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.Record(ctx, taskID, eventType, data); err != nil {
		s.logger.Error("failed to record event", "event_type", eventType, "task_id", taskID, "error", err)
	}
}

func jsonMarshal(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
