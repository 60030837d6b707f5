package api

import (
	"net/http"

	"github.com/MatinDeevv/moi/internal/store"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taskID := q.Get("taskId")
	if taskID == "" {
		taskID = q.Get("task_id")
	}
	eventType := q.Get("eventType")
	if eventType == "" {
		eventType = q.Get("event_type")
	}

	list, err := s.store.ListEvents(r.Context(), store.EventFilter{
		TaskID:    taskID,
		EventType: eventType,
		Limit:     parseLimit(r),
	})
	if err != nil {
		s.logger.Error("list events failed", "error", err)
		respondStoreError(w, err)
		return
	}

	respondOK(w, map[string]any{"events": list, "count": len(list)})
}
