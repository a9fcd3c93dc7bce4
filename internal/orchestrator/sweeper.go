package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/artifactflow/internal/store"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ReconcileRunning reconciles every RUNNING job and returns how many reached
// a terminal state. Each job goes through the same idempotent path as
// GetStatus, so sweeps may overlap with client polling and with sweeps on
// other instances.
func (s *Service) ReconcileRunning(ctx context.Context) (int, error) {
	var finished atomic.Int64
	err := s.eachJob(ctx, models.JobStatusRunning, func(ctx context.Context, job *models.Job) {
		if models.IsTerminal(s.reconcile(ctx, job).Status) {
			finished.Add(1)
		}
	})
	return int(finished.Load()), err
}

// RecordStartedRuns moves PENDING jobs with a pinned run to RUNNING and
// returns how many it recorded.
func (s *Service) RecordStartedRuns(ctx context.Context) (int, error) {
	var recorded atomic.Int64
	err := s.eachJob(ctx, models.JobStatusPending, func(ctx context.Context, job *models.Job) {
		if job.RunHandle == nil {
			return
		}
		if _, err := s.finishStart(ctx, job.ID, *job.RunHandle); err == nil {
			recorded.Add(1)
		}
	})
	return int(recorded.Load()), err
}

// eachJob pages through every job in status, newest first, and calls fn for
// each with at most ReconcileConcurrency calls in flight.
func (s *Service) eachJob(ctx context.Context, status string, fn func(context.Context, *models.Job)) error {
	var after store.Cursor
	for {
		page, err := s.store.ListJobsByStatusAfter(ctx, status, after, store.MaxListLimit)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.ReconcileConcurrency)
		for _, job := range page {
			g.Go(func() error {
				fn(gctx, job)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(page) < store.MaxListLimit {
			return nil
		}
		after = store.CursorAt(page[len(page)-1])
	}
}

// RunSweeper reconciles RUNNING jobs and records pinned runs every interval
// until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("reconcile sweeper started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconcile sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	if n, err := s.RecordStartedRuns(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("record started runs failed", "error", err)
	} else if n > 0 {
		slog.Info("recorded started runs", "count", n)
	}

	n, err := s.ReconcileRunning(ctx)
	if err != nil && ctx.Err() == nil {
		slog.Warn("reconcile sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("reconcile sweep finished jobs", "count", n)
	}
}
