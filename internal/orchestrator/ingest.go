package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/capability"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

const maxFileNameBytes = 255

// Upload is the result of a successful Ingest.
type Upload struct {
	JobID      uuid.UUID
	Capability *capability.Capability
	ExpiresIn  int64
}

// Ingest validates the request, creates a PENDING job and returns a write
// capability for the job's input location. No run is started.
func (s *Service) Ingest(ctx context.Context, fileName string, fileSize int64) (*Upload, error) {
	if err := s.validateUpload(fileName, fileSize); err != nil {
		return nil, err
	}

	id := s.newID()
	inputKey := models.InputKey(id, fileName)

	capab, err := s.issuer.IssueWrite(ctx, inputKey, s.cfg.UploadTTL)
	if err != nil {
		return nil, fmt.Errorf("issue upload capability: %w", err)
	}

	now := s.now()
	job := &models.Job{
		ID:        id,
		FileName:  fileName,
		Status:    models.JobStatusPending,
		InputKey:  inputKey,
		FileSize:  fileSize,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	slog.InfoContext(ctx, "job created", "job_id", id, "file_name", fileName, "file_size", fileSize)

	return &Upload{
		JobID:      id,
		Capability: capab,
		ExpiresIn:  int64(s.cfg.UploadTTL.Seconds()),
	}, nil
}

func (s *Service) validateUpload(fileName string, fileSize int64) error {
	ext := s.cfg.AcceptedExtension
	switch {
	case fileName == "":
		return fmt.Errorf("%w: fileName is required", ErrInvalidInput)
	case !strings.HasSuffix(fileName, ext):
		return fmt.Errorf("%w: invalid file type, only %s files are allowed", ErrInvalidInput, ext)
	case fileName == ext:
		return fmt.Errorf("%w: fileName must have a name before %s", ErrInvalidInput, ext)
	case strings.ContainsAny(fileName, `/\`):
		return fmt.Errorf("%w: fileName must not contain path separators", ErrInvalidInput)
	case len(fileName) > maxFileNameBytes:
		return fmt.Errorf("%w: fileName must be at most %d bytes", ErrInvalidInput, maxFileNameBytes)
	case fileSize < 0:
		return fmt.Errorf("%w: fileSize must not be negative", ErrInvalidInput)
	}
	return nil
}
