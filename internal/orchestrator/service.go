// Package orchestrator owns the job lifecycle: ingestion, triggering,
// reconciliation against the processing engine, and result access.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/cache"
	"github.com/kiranshivaraju/artifactflow/internal/capability"
	"github.com/kiranshivaraju/artifactflow/internal/config"
	"github.com/kiranshivaraju/artifactflow/internal/store"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// Config tunes the Service. Zero values fall back to the defaults below.
type Config struct {
	AcceptedExtension    string
	OutputExtension      string
	UploadTTL            time.Duration
	DownloadTTL          time.Duration
	TriggerLease         time.Duration
	EngineQueryTimeout   time.Duration
	StartTimeout         time.Duration
	StateWriteRetries    int
	RetryInitialInterval time.Duration
	TerminalCacheTTL     time.Duration
	ReconcileConcurrency int
	VerifyInput          bool
}

// ConfigFrom maps the process configuration onto a Service Config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		AcceptedExtension:    cfg.Orchestrator.AcceptedExtension,
		OutputExtension:      cfg.Orchestrator.OutputExtension,
		UploadTTL:            cfg.Storage.UploadTTL,
		DownloadTTL:          cfg.Storage.DownloadTTL,
		TriggerLease:         cfg.Orchestrator.TriggerLease,
		EngineQueryTimeout:   cfg.Engine.QueryTimeout,
		StartTimeout:         cfg.Engine.StartTimeout,
		StateWriteRetries:    cfg.Orchestrator.StateWriteRetries,
		TerminalCacheTTL:     cfg.Orchestrator.TerminalCacheTTL,
		ReconcileConcurrency: cfg.Orchestrator.ReconcileConcurrency,
		VerifyInput:          cfg.Storage.VerifyInput,
	}
}

func (c Config) withDefaults() Config {
	if c.AcceptedExtension == "" {
		c.AcceptedExtension = ".parquet"
	}
	if c.OutputExtension == "" {
		c.OutputExtension = ".json"
	}
	if c.UploadTTL <= 0 {
		c.UploadTTL = time.Hour
	}
	if c.DownloadTTL <= 0 {
		c.DownloadTTL = time.Hour
	}
	if c.TriggerLease <= 0 {
		c.TriggerLease = 2 * time.Minute
	}
	if c.EngineQueryTimeout <= 0 {
		c.EngineQueryTimeout = 5 * time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 30 * time.Second
	}
	if c.StartTimeout >= c.TriggerLease {
		c.StartTimeout = c.TriggerLease / 2
	}
	if c.StateWriteRetries <= 0 {
		c.StateWriteRetries = 5
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
	if c.TerminalCacheTTL <= 0 {
		c.TerminalCacheTTL = 24 * time.Hour
	}
	if c.ReconcileConcurrency <= 0 {
		c.ReconcileConcurrency = 4
	}
	return c
}

// Service keeps all durable state in the store, so any number of instances
// may serve the same jobs. The only in-process state is the set of runs this
// instance started but could not yet record.
type Service struct {
	store  store.Store
	engine models.Engine
	issuer capability.Issuer
	cache  cache.Cache
	cfg    Config
	now    func() time.Time
	newID  func() uuid.UUID

	mu      sync.Mutex
	started map[uuid.UUID]string
}

// NewService wires the orchestrator. ca may be nil, which disables the
// terminal-record cache.
func NewService(st store.Store, eng models.Engine, iss capability.Issuer, ca cache.Cache, cfg Config) *Service {
	return &Service{
		store:  st,
		engine: eng,
		issuer: iss,
		cache:  ca,
		cfg:    cfg.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.New,

		started: make(map[uuid.UUID]string),
	}
}

// EngineName reports which processing engine the service drives.
func (s *Service) EngineName() string { return s.engine.Name() }

// ListJobs returns up to limit jobs, newest first. A non-empty status narrows
// the listing to jobs currently in that status.
func (s *Service) ListJobs(ctx context.Context, limit int, status string) ([]*models.Job, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	}

	var (
		jobs []*models.Job
		err  error
	)
	if status == "" {
		jobs, err = s.store.ListJobs(ctx, limit)
	} else {
		if !validStatus(status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
		}
		jobs, err = s.store.ListJobsByStatus(ctx, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return jobs, nil
}

// startedRun returns the handle of a run already started for job, either
// pinned in the store or remembered by this instance.
func (s *Service) startedRun(job *models.Job) (string, bool) {
	if job.RunHandle != nil {
		return *job.RunHandle, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.started[job.ID]
	return handle, ok
}

func (s *Service) rememberRun(id uuid.UUID, handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[id] = handle
}

func (s *Service) forgetRun(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.started, id)
}

func validStatus(status string) bool {
	switch status {
	case models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed:
		return true
	}
	return false
}

// getJob reads a job and translates store errors into the service taxonomy.
func (s *Service) getJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return job, nil
}

// cachedTerminal returns a terminal job from the cache. Cache failures are
// logged and treated as misses.
func (s *Service) cachedTerminal(ctx context.Context, id uuid.UUID) (*models.Job, bool) {
	if s.cache == nil {
		return nil, false
	}
	job, found, err := s.cache.GetTerminalJob(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "terminal cache read failed", "job_id", id, "error", err)
		return nil, false
	}
	return job, found
}

func (s *Service) cacheTerminal(ctx context.Context, job *models.Job) {
	if s.cache == nil || !models.IsTerminal(job.Status) {
		return
	}
	if err := s.cache.SetTerminalJob(ctx, job, s.cfg.TerminalCacheTTL); err != nil {
		slog.WarnContext(ctx, "terminal cache write failed", "job_id", job.ID, "error", err)
	}
}
