package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/api/response"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// Triggerer defines the interface the trigger handler depends on.
type Triggerer interface {
	Trigger(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type triggerResponse struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	RunHandle string `json:"runHandle"`
	Message   string `json:"message"`
}

// NewTriggerHandler returns an http.HandlerFunc for POST /trigger-job.
func NewTriggerHandler(svc Triggerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID string `json:"jobId"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			invalidInput(w, "Invalid JSON body")
			return
		}
		if req.JobID == "" {
			invalidInput(w, "jobId is required")
			return
		}
		id, err := uuid.Parse(req.JobID)
		if err != nil {
			invalidInput(w, "jobId must be a valid UUID")
			return
		}

		job, err := svc.Trigger(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp := triggerResponse{
			JobID:   job.ID.String(),
			Status:  job.Status,
			Message: "ETL job started successfully",
		}
		if job.RunHandle != nil {
			resp.RunHandle = *job.RunHandle
		}
		response.JSON(w, resp)
	}
}
