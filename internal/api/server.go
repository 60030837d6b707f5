// Package api is the JSON HTTP surface. Handlers parse input, call
// exactly one store or orchestrator operation, and map the outcome to
// the response envelope; no business logic lives here.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MatinDeevv/moi/internal/events"
	"github.com/MatinDeevv/moi/internal/orchestrator"
	"github.com/MatinDeevv/moi/internal/runner"
	"github.com/MatinDeevv/moi/internal/store"
)

// Server holds handler dependencies.
type Server struct {
	store    store.Store
	orch     *orchestrator.Service
	client   *runner.Client
	recorder *events.Recorder
	fallback runner.Config
	metrics  *orchestrator.Metrics
	logger   *slog.Logger
}

// NewServer creates the HTTP surface.
func NewServer(s store.Store, orch *orchestrator.Service, client *runner.Client, recorder *events.Recorder, fallback runner.Config, metrics *orchestrator.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    s,
		orch:     orch,
		client:   client,
		recorder: recorder,
		fallback: fallback,
		metrics:  metrics,
		logger:   logger,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Patch("/", s.handlePatchTask)
			r.Delete("/", s.handleDeleteTask)
			r.Post("/run", s.handleRunTask)
		})
	})

	r.Get("/events", s.handleListEvents)

	r.Route("/settings/runner", func(r chi.Router) {
		r.Get("/", s.handleGetSettings)
		r.Put("/", s.handlePutSettings)
		r.Get("/test", s.handleTestRunner)
	})

	r.Get("/browse", s.handleBrowse)
	r.Get("/browse/read", s.handleBrowseRead)
	r.Get("/sandbox/list", s.handleSandboxList)
	r.Get("/sandbox/read", s.handleSandboxRead)
	r.Post("/sandbox/write", s.handleSandboxWrite)
	r.Post("/sandbox/delete", s.handleSandboxDelete)
	r.Post("/sandbox/rename", s.handleSandboxRename)
	r.Post("/shell/run", s.handleShellRun)
	r.Post("/analyze", s.handleAnalyze)

	return r
}

// handleHealth reports store counts and whether a runner endpoint is
// available.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Counts(r.Context())
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		respondError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	cfg, err := orchestrator.ResolveConfig(r.Context(), s.store, s.fallback)
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		respondError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	respondOK(w, map[string]any{
		"tasksCount":       counts.Tasks,
		"eventsCount":      counts.Events,
		"runnerConfigured": cfg.Configured(),
	})
}
