package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MatinDeevv/moi/internal/orchestrator"
	"github.com/MatinDeevv/moi/internal/store"
	"github.com/MatinDeevv/moi/pkg/tasks"
)

func parseLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taskType := q.Get("type")
	if taskType == "" {
		// Older clients send task_type.
		taskType = q.Get("task_type")
	}

	list, err := s.store.ListTasks(r.Context(), store.TaskFilter{
		Status: q.Get("status"),
		Type:   taskType,
		Tag:    q.Get("tag"),
		Limit:  parseLimit(r),
	})
	if err != nil {
		s.logger.Error("list tasks failed", "error", err)
		respondStoreError(w, err)
		return
	}

	respondOK(w, map[string]any{"tasks": list, "count": len(list)})
}

type createTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Tags        []string        `json:"tags"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task, err := s.store.CreateTask(r.Context(), store.NewTask{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Payload:     req.Payload,
		Tags:        req.Tags,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	s.metrics.TaskCreated()
	s.record(r, task.ID, tasks.EventTaskCreated, map[string]any{
		"title": task.Title,
		"type":  task.Type,
	})
	s.logger.Info("task created", "task_id", task.ID, "type", task.Type)

	respondOK(w, map[string]any{"task": task})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondOK(w, map[string]any{"task": task})
}

type patchTaskRequest struct {
	Title        *string         `json:"title"`
	Description  *string         `json:"description"`
	Status       *string         `json:"status"`
	Type         *string         `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Tags         *[]string       `json:"tags"`
	LastRunAt    *time.Time      `json:"lastRunAt"`
	RunnerStatus *string         `json:"runnerStatus"`
	OutputText   *string         `json:"outputText"`
	ErrorMessage *string         `json:"errorMessage"`
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req patchTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status != nil && !tasks.ValidStatus(*req.Status) {
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	// The id is taken from the path only; an id in the body is ignored.
	task, err := s.store.UpdateTask(r.Context(), id, store.TaskPatch{
		Title:        req.Title,
		Description:  req.Description,
		Status:       req.Status,
		Type:         req.Type,
		Payload:      req.Payload,
		Tags:         req.Tags,
		LastRunAt:    req.LastRunAt,
		RunnerStatus: req.RunnerStatus,
		OutputText:   req.OutputText,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	s.record(r, task.ID, tasks.EventTaskUpdated, nil)

	respondOK(w, map[string]any{"task": task})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	s.record(r, id, tasks.EventTaskDeleted, nil)
	s.logger.Info("task deleted", "task_id", id)

	respondOK(w, map[string]any{"deleted": true, "taskId": id})
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.orch.Run(r.Context(), id)
	if err != nil {
		if orchestrator.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		// Runner failures carry the partially-updated (failed) task.
		writeJSON(w, runnerErrorStatus(err), envelope{
			OK:    false,
			Error: err.Error(),
			Data:  map[string]any{"task": result.Task},
		})
		return
	}

	respondOK(w, map[string]any{
		"task":           result.Task,
		"runnerResponse": result.RunnerResponse,
	})
}

func (s *Server) record(r *http.Request, taskID, eventType string, data any) {
	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.Record(r.Context(), taskID, eventType, data); err != nil {
		s.logger.Error("failed to record event", "event_type", eventType, "error", err)
	}
}
