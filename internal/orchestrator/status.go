package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/store"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// GetStatus returns the job, first folding in the engine's view of the run
// when the job is RUNNING. Engine or store trouble during that step is logged
// and the last stored state is returned instead.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if job, ok := s.cachedTerminal(ctx, id); ok {
		return job, nil
	}

	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusRunning {
		s.cacheTerminal(ctx, job)
		return job, nil
	}
	return s.reconcile(ctx, job), nil
}

// reconcile never returns an error. It either returns job unchanged or the
// record after the terminal transition.
func (s *Service) reconcile(ctx context.Context, job *models.Job) *models.Job {
	log := slog.With("job_id", job.ID, "engine", s.engine.Name())
	if job.RunHandle == nil {
		log.WarnContext(ctx, "running job has no run handle")
		return job
	}
	handle := *job.RunHandle
	log = log.With("run_handle", handle)

	qctx, cancel := context.WithTimeout(ctx, s.cfg.EngineQueryTimeout)
	run, err := s.engine.GetRun(qctx, handle)
	cancel()
	if err != nil {
		log.WarnContext(ctx, "engine query failed, keeping last known state", "error", err)
		return job
	}

	var (
		to  string
		opt store.JobUpdateOption
	)
	switch {
	case run.State == models.RunSucceeded:
		to = models.JobStatusCompleted
		opt = store.WithProcessingTime(processingSeconds(run))
	case run.State.IsFailure():
		to = models.JobStatusFailed
		opt = store.WithErrorMessage(failureMessage(run))
	default:
		return job
	}

	updated, err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, to, opt)
	if errors.Is(err, store.ErrConditionFailed) {
		// Another reconciler got there first; report what it wrote.
		current, gerr := s.store.GetJob(ctx, job.ID)
		if gerr != nil {
			log.WarnContext(ctx, "re-read after lost transition failed", "error", gerr)
			return job
		}
		updated = current
	} else if err != nil {
		log.ErrorContext(ctx, "persist terminal state failed", "to", to, "error", err)
		return job
	} else {
		log.InfoContext(ctx, "job finished", "status", to, "run_state", string(run.State))
	}

	s.cacheTerminal(ctx, updated)
	return updated
}

// processingSeconds is the run's wall time rounded to whole seconds, or zero
// when the engine did not report both ends.
func processingSeconds(run *models.Run) int64 {
	if run.StartedAt.IsZero() || run.CompletedAt.IsZero() || run.CompletedAt.Before(run.StartedAt) {
		return 0
	}
	return int64(math.Round(run.CompletedAt.Sub(run.StartedAt).Seconds()))
}

func failureMessage(run *models.Run) string {
	if run.ErrorCause != "" {
		return run.ErrorCause
	}
	return fmt.Sprintf("processing run ended in state %s", run.State)
}
