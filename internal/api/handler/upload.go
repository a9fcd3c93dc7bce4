package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/artifactflow/internal/api/response"
	"github.com/kiranshivaraju/artifactflow/internal/orchestrator"
)

// Ingester defines the interface the upload handler depends on.
type Ingester interface {
	Ingest(ctx context.Context, fileName string, fileSize int64) (*orchestrator.Upload, error)
}

type uploadResponse struct {
	JobID            string `json:"jobId"`
	UploadCapability string `json:"uploadCapability"`
	ExpiresIn        int64  `json:"expiresIn"`
	Message          string `json:"message"`
}

// NewUploadHandler returns an http.HandlerFunc for POST /upload.
func NewUploadHandler(svc Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FileName string `json:"fileName"`
			FileSize int64  `json:"fileSize"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			invalidInput(w, "Invalid JSON body")
			return
		}

		upload, err := svc.Ingest(r.Context(), req.FileName, req.FileSize)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.JSON(w, uploadResponse{
			JobID:            upload.JobID.String(),
			UploadCapability: upload.Capability.URL,
			ExpiresIn:        upload.ExpiresIn,
			Message:          "Upload URL generated successfully",
		})
	}
}
