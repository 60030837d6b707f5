package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MatinDeevv/moi/internal/runner"
	"github.com/MatinDeevv/moi/internal/store"
)

// envelope is the uniform response wrapper used by every endpoint.
type envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{OK: false, Error: msg})
}

// respondStoreError maps store failures to HTTP statuses: rejected
// input is the client's fault, a missing id is 404, anything else is
// a storage problem.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case store.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// runnerErrorStatus maps the runner failure taxonomy to a status:
// missing configuration is a server-side problem, everything else is
// an upstream (runner) failure.
func runnerErrorStatus(err error) int {
	if errors.Is(err, runner.ErrNotConfigured) {
		return http.StatusInternalServerError
	}
	var re *runner.RunnerError
	var ue *runner.UnreachableError
	var ie *runner.InvalidResponseError
	if errors.As(err, &re) || errors.As(err, &ue) || errors.As(err, &ie) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondRunnerError(w http.ResponseWriter, err error) {
	respondError(w, runnerErrorStatus(err), err.Error())
}
