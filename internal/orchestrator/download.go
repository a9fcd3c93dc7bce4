package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/capability"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// Download is the result of a successful GetDownload.
type Download struct {
	Capability *capability.Capability
	FileName   string
	ExpiresIn  int64
}

// GetDownload issues a read capability for a COMPLETED job's output.
func (s *Service) GetDownload(ctx context.Context, id uuid.UUID) (*Download, error) {
	job, ok := s.cachedTerminal(ctx, id)
	if !ok {
		var err error
		if job, err = s.getJob(ctx, id); err != nil {
			return nil, err
		}
	}
	if job.Status != models.JobStatusCompleted {
		return nil, fmt.Errorf("%w: job is %s", ErrNotReady, job.Status)
	}

	capab, err := s.issuer.IssueRead(ctx, models.OutputKey(job.ID), s.cfg.DownloadTTL)
	if err != nil {
		return nil, fmt.Errorf("issue download capability: %w", err)
	}
	return &Download{
		Capability: capab,
		FileName:   s.ResultFileName(job.FileName),
		ExpiresIn:  int64(s.cfg.DownloadTTL.Seconds()),
	}, nil
}

// ResultFileName swaps the accepted input extension for the output one.
func (s *Service) ResultFileName(fileName string) string {
	return strings.TrimSuffix(fileName, s.cfg.AcceptedExtension) + s.cfg.OutputExtension
}
