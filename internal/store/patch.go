package store

import (
	"sort"
	"strings"
	"time"

	"github.com/MatinDeevv/moi/pkg/tasks"
)

// applyTaskPatch merges p into t and refreshes updatedAt. All adapters
// share this so a patch means the same thing on every backend.
func applyTaskPatch(t *tasks.Task, p TaskPatch, now time.Time) {
	if p.Title != nil && strings.TrimSpace(*p.Title) != "" {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil && tasks.ValidStatus(*p.Status) {
		t.Status = *p.Status
	}
	if p.Type != nil && *p.Type != "" {
		t.Type = *p.Type
	}
	if p.Payload != nil {
		t.Payload = p.Payload
	}
	if p.Tags != nil {
		t.Tags = *p.Tags
	}
	if p.LastRunAt != nil {
		lr := *p.LastRunAt
		t.LastRunAt = &lr
	}
	if p.RunnerStatus != nil {
		t.RunnerStatus = *p.RunnerStatus
	}
	if p.OutputText != nil {
		t.OutputText = *p.OutputText
	}
	if p.OutputRaw != nil {
		t.OutputRaw = p.OutputRaw
	}
	if p.ErrorMessage != nil {
		t.ErrorMessage = *p.ErrorMessage
	}
	t.UpdatedAt = now
}

// applySettingsPatch merges p into s. Empty strings clear the field.
func applySettingsPatch(s *tasks.Settings, p SettingsPatch, now time.Time) {
	if p.RunnerURL != nil {
		s.RunnerURL = *p.RunnerURL
	}
	if p.RunnerToken != nil {
		s.RunnerToken = *p.RunnerToken
	}
	s.UpdatedAt = now
}

func matchTask(t tasks.Task, f TaskFilter) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, tag := range t.Tags {
			if tag == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchEvent(e tasks.Event, f EventFilter) bool {
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	return true
}

func sortTasksNewestFirst(list []tasks.Task) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

func sortEventsNewestFirst(list []tasks.Event) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp.After(list[j].Timestamp)
	})
}
