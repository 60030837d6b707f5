package api

import (
	"encoding/json"
	"net/http"

	"github.com/MatinDeevv/moi/internal/orchestrator"
	"github.com/MatinDeevv/moi/internal/runner"
)

// proxyRespond maps a runner call outcome to the response envelope and
// records the proxy metric. The runner body passes through untouched.
func (s *Server) proxyRespond(w http.ResponseWriter, op string, body runner.Body, err error) {
	s.metrics.ProxyRequest(op, err)
	if err != nil {
		s.logger.Error("runner proxy call failed", "operation", op, "error", err)
		respondRunnerError(w, err)
		return
	}
	respondOK(w, body)
}

func (s *Server) runnerConfig(w http.ResponseWriter, r *http.Request) (runner.Config, bool) {
	cfg, err := orchestrator.ResolveConfig(r.Context(), s.store, s.fallback)
	if err != nil {
		respondStoreError(w, err)
		return runner.Config{}, false
	}
	return cfg, true
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.runnerConfig(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	body, err := s.client.Browse(r.Context(), cfg, q.Get("path"), q.Get("pattern"), q.Get("recursive") == "true")
	s.proxyRespond(w, "browse", body, err)
}

func (s *Server) handleBrowseRead(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.runnerConfig(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	body, err := s.client.BrowseRead(r.Context(), cfg, path)
	s.proxyRespond(w, "browse_read", body, err)
}

func (s *Server) handleSandboxList(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.runnerConfig(w, r)
	if !ok {
		return
	}
	body, err := s.client.SandboxList(r.Context(), cfg, r.URL.Query().Get("path"))
	s.proxyRespond(w, "sandbox_list", body, err)
}

func (s *Server) handleSandboxRead(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.runnerConfig(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	body, err := s.client.SandboxRead(r.Context(), cfg, path)
	s.proxyRespond(w, "sandbox_read", body, err)
}

type sandboxWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (s *Server) handleSandboxWrite(w http.ResponseWriter, r *http.Request) {
	var req sandboxWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	cfg, ok := s.runnerConfig(w, r)
	if !ok {
		return
	}
	body, err := s.client.SandboxWrite(r.Context(), cfg, req.Path, req.Content)
	s.proxyRespond(w, "sandbox_write", body, err)
}

type sandboxDeleteRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleSandboxDelete(w http.ResponseWriter, r *http.Request) {
	var req sandboxDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	cfg, ok := s.runnerConfig(w, r)
	if !ok {
		return
	}
	body, err := s.client.SandboxDelete(r.Context(), cfg, req.Path)
	s.proxyRespond(w, "sandbox_delete", body, err)
}

type sandboxRenameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) handleSandboxRename(w http.ResponseWriter, r *http.Request) {
	var req sandboxRenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.From == "" || req.To == "" {
		respondError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	cfg, ok := s.runnerConfig(w, r)
	if !ok {
		return
	}
	body, err := s.client.SandboxRename(r.Context(), cfg, req.From, req.To)
	s.proxyRespond(w, "sandbox_rename", body, err)
}

type shellRunRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
	Admin   bool   `json:"admin"`
}

func (s *Server) handleShellRun(w http.ResponseWriter, r *http.Request) {
	var req shellRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Command == "" {
		respondError(w, http.StatusBadRequest, "command is required")
		return
	}
	cfg, ok := s.runnerConfig(w, r)
	if !ok {
		return
	}
	body, err := s.client.Shell(r.Context(), cfg, req.Command, req.Cwd, req.Admin)
	s.proxyRespond(w, "shell", body, err)
}

type analyzeRequest struct {
	Files          []string `json:"files"`
	Prompt         string   `json:"prompt"`
	IncludeContent bool     `json:"include_content"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	cfg, ok := s.runnerConfig(w, r)
	if !ok {
		return
	}
	body, err := s.client.Analyze(r.Context(), cfg, req.Files, req.Prompt, req.IncludeContent)
	s.proxyRespond(w, "analyze", body, err)
}
