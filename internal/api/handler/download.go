package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/api/response"
	"github.com/kiranshivaraju/artifactflow/internal/orchestrator"
)

// Downloader defines the interface the download handler depends on.
type Downloader interface {
	GetDownload(ctx context.Context, id uuid.UUID) (*orchestrator.Download, error)
}

type downloadResponse struct {
	DownloadCapability string `json:"downloadCapability"`
	FileName           string `json:"fileName"`
	ExpiresIn          int64  `json:"expiresIn"`
}

// NewDownloadHandler returns an http.HandlerFunc for GET /download/{jobId}.
func NewDownloadHandler(svc Downloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		dl, err := svc.GetDownload(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.JSON(w, downloadResponse{
			DownloadCapability: dl.Capability.URL,
			FileName:           dl.FileName,
			ExpiresIn:          dl.ExpiresIn,
		})
	}
}
