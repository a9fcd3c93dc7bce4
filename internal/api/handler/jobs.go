package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/artifactflow/internal/api/response"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// JobLister defines the interface the list handler depends on.
type JobLister interface {
	ListJobs(ctx context.Context, limit int, status string) ([]*models.Job, error)
}

type listJobsResponse struct {
	Jobs  []*models.Job `json:"jobs"`
	Count int           `json:"count"`
}

// NewListJobsHandler returns an http.HandlerFunc for GET /jobs.
// Optional query parameters: limit (default 50, max 100) and status.
func NewListJobsHandler(svc JobLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				invalidInput(w, "limit must be an integer")
				return
			}
			limit = n
		}

		jobs, err := svc.ListJobs(r.Context(), limit, q.Get("status"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}

		response.JSON(w, listJobsResponse{Jobs: jobs, Count: len(jobs)})
	}
}
