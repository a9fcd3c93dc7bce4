package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/artifactflow/internal/api/response"
	"github.com/kiranshivaraju/artifactflow/internal/orchestrator"
)

const maxBodyBytes = 1 << 20

// writeError maps orchestrator errors onto HTTP status codes and error codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.Is(err, orchestrator.ErrInvalidState):
		response.Error(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrNotReady):
		response.Error(w, http.StatusConflict, "NOT_READY", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrEngineUnavailable):
		slog.WarnContext(r.Context(), "engine unavailable", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "ENGINE_UNAVAILABLE",
			"Processing engine unavailable, retry later", nil)
	case errors.Is(err, orchestrator.ErrStoreUnavailable):
		slog.ErrorContext(r.Context(), "store unavailable", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "STORE_UNAVAILABLE",
			"Job store unavailable, retry later", nil)
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}
}

func invalidInput(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, "INVALID_INPUT", message, nil)
}
