package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/capability"
	"github.com/kiranshivaraju/artifactflow/internal/config"
	"github.com/kiranshivaraju/artifactflow/internal/store"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// Trigger starts the processing run for a PENDING job and records it RUNNING.
//
// Concurrent callers race on a conditional claim in the store; exactly one
// wins and starts a run, the rest get ErrInvalidState. If the engine refuses
// the start, the claim is released and the job stays PENDING. If the start
// call times out its outcome is unknown, so the claim is kept until the lease
// expires. Once a run has started it is never started again: a failed state
// write pins the handle on the job, and a later Trigger only retries the write.
func (s *Service) Trigger(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPending {
		return nil, fmt.Errorf("%w: job is %s, only %s jobs can be triggered",
			ErrInvalidState, job.Status, models.JobStatusPending)
	}

	if handle, ok := s.startedRun(job); ok {
		slog.InfoContext(ctx, "run already started, recording it", "job_id", id, "run_handle", handle)
		return s.finishStart(context.WithoutCancel(ctx), id, handle)
	}

	if err := s.verifyInput(ctx, job); err != nil {
		return nil, err
	}

	if err := s.store.ClaimTrigger(ctx, id, s.cfg.TriggerLease); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, store.ErrConditionFailed):
			return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	}

	startCtx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	handle, err := s.engine.StartRun(startCtx, job.InputKey, job.ID)
	interrupted := startCtx.Err() != nil
	cancel()
	if err != nil {
		if interrupted {
			slog.WarnContext(ctx, "start run interrupted, holding claim until lease expires",
				"job_id", id, "engine", s.engine.Name(), "lease", s.cfg.TriggerLease.String(), "error", err)
		} else {
			if rerr := s.store.ReleaseTrigger(context.WithoutCancel(ctx), id); rerr != nil {
				slog.WarnContext(ctx, "release trigger claim failed", "job_id", id, "error", rerr)
			}
			slog.WarnContext(ctx, "start run failed", "job_id", id, "engine", s.engine.Name(), "error", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}

	slog.InfoContext(ctx, "run started", "job_id", id, "engine", s.engine.Name(), "run_handle", handle)
	s.rememberRun(id, handle)

	return s.finishStart(context.WithoutCancel(ctx), id, handle)
}

// finishStart records a started run. The run stays remembered only while the
// store is unreachable, so a retry can finish the write without a new start.
func (s *Service) finishStart(ctx context.Context, id uuid.UUID, handle string) (*models.Job, error) {
	running, err := s.recordRunning(ctx, id, handle)
	if err != nil && errors.Is(err, ErrStoreUnavailable) {
		slog.ErrorContext(ctx, "run started but not recorded",
			"job_id", id, "run_handle", handle, "error", err)
		return nil, err
	}
	s.forgetRun(id)
	if err != nil {
		return nil, err
	}
	return running, nil
}

// recordRunning persists PENDING -> RUNNING with the run handle, retrying
// transient store failures with exponential backoff. After the first failed
// write it also tries to pin the handle on the job so that no other instance
// can claim the job and start a second run.
func (s *Service) recordRunning(ctx context.Context, id uuid.UUID, handle string) (*models.Job, error) {
	var (
		running *models.Job
		pinned  bool
	)
	op := func() error {
		j, err := s.store.UpdateJobStatus(ctx, id, models.JobStatusPending, models.JobStatusRunning,
			store.WithRunHandle(handle))
		switch {
		case err == nil:
			running = j
			return nil
		case errors.Is(err, store.ErrNotFound):
			return backoff.Permanent(ErrNotFound)
		case errors.Is(err, store.ErrConditionFailed):
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrInvalidState, err))
		}
		if !pinned {
			if perr := s.store.PinRun(ctx, id, handle); perr != nil {
				slog.WarnContext(ctx, "pin run failed", "job_id", id, "run_handle", handle, "error", perr)
			} else {
				pinned = true
			}
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitialInterval
	b.MaxInterval = config.StateWriteMaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.StateWriteRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "record running failed, retrying",
			"job_id", id, "run_handle", handle, "retry_in", wait.String(), "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: record running: %w", ErrStoreUnavailable, err)
	}
	return running, nil
}

// verifyInput checks that the client actually uploaded the input object,
// when enabled and supported by the issuer.
func (s *Service) verifyInput(ctx context.Context, job *models.Job) error {
	if !s.cfg.VerifyInput {
		return nil
	}
	verifier, ok := s.issuer.(capability.InputVerifier)
	if !ok {
		return nil
	}
	exists, err := verifier.InputExists(ctx, job.InputKey)
	if err != nil {
		return fmt.Errorf("verify input: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: input %s has not been uploaded", ErrInvalidState, job.InputKey)
	}
	return nil
}
