package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MatinDeevv/moi/internal/orchestrator"
	"github.com/MatinDeevv/moi/internal/runner"
	"github.com/MatinDeevv/moi/internal/store"
	"github.com/MatinDeevv/moi/pkg/tasks"
)

// tokenMask replaces the stored runner token in every response. The
// real value never leaves the process.
const tokenMask = "***"

// settingsView is the wire shape of the settings record. Cleared
// fields serialize as explicit nulls, never as omitted keys or empty
// strings.
type settingsView struct {
	RunnerURL   *string `json:"runnerUrl"`
	RunnerToken *string `json:"runnerToken"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
}

func maskSettings(cfg tasks.Settings) settingsView {
	var v settingsView
	if cfg.RunnerURL != "" {
		u := cfg.RunnerURL
		v.RunnerURL = &u
	}
	if cfg.RunnerToken != "" {
		mask := tokenMask
		v.RunnerToken = &mask
	}
	if !cfg.UpdatedAt.IsZero() {
		v.UpdatedAt = cfg.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	return v
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.logger.Error("load settings failed", "error", err)
		respondStoreError(w, err)
		return
	}
	respondOK(w, map[string]any{"settings": maskSettings(cfg)})
}

type putSettingsRequest struct {
	RunnerURL   *string `json:"runnerUrl"`
	RunnerToken *string `json:"runnerToken"`
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req putSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// A masked token echoed back by a client must not overwrite the
	// stored value.
	if req.RunnerToken != nil && *req.RunnerToken == tokenMask {
		req.RunnerToken = nil
	}

	cfg, err := s.store.UpdateSettings(r.Context(), store.SettingsPatch{
		RunnerURL:   req.RunnerURL,
		RunnerToken: req.RunnerToken,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	s.logger.Info("runner settings updated", "runner_url", cfg.RunnerURL)
	respondOK(w, map[string]any{"settings": maskSettings(cfg)})
}

// handleTestRunner probes the configured runner's health endpoint.
func (s *Server) handleTestRunner(w http.ResponseWriter, r *http.Request) {
	cfg, err := orchestrator.ResolveConfig(r.Context(), s.store, s.fallback)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if !cfg.Configured() {
		respondError(w, http.StatusBadRequest, runner.ErrNotConfigured.Error())
		return
	}

	body, err := s.client.Health(r.Context(), cfg)
	s.metrics.ProxyRequest("health", err)
	if err != nil {
		if errors.Is(err, runner.ErrNotConfigured) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondRunnerError(w, err)
		return
	}

	respondOK(w, map[string]any{
		"reachable":  true,
		"runnerUrl":  cfg.BaseURL,
		"runnerInfo": body,
	})
}
