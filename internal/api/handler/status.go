package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/api/response"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// StatusReader defines the interface the status handler depends on.
type StatusReader interface {
	GetStatus(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// NewStatusHandler returns an http.HandlerFunc for GET /job-status/{jobId}.
// A RUNNING job is reconciled against the engine before the response is written.
func NewStatusHandler(svc StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		job, err := svc.GetStatus(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.JSON(w, job)
	}
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		invalidInput(w, "jobId must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
