package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// MemoryStore is an in-process Store for local development and tests.
// Each method is atomic with respect to the others, which gives the same
// per-record conditional-write guarantees as PostgresStore.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*models.Job
	claims map[uuid.UUID]time.Time
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[uuid.UUID]*models.Job),
		claims: make(map[uuid.UUID]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, limit int) ([]*models.Job, error) {
	return s.list(func(*models.Job) bool { return true }, limit), nil
}

func (s *MemoryStore) ListJobsByStatus(_ context.Context, status string, limit int) ([]*models.Job, error) {
	return s.list(func(j *models.Job) bool { return j.Status == status }, limit), nil
}

func (s *MemoryStore) ListJobsByStatusAfter(_ context.Context, status string, after Cursor, limit int) ([]*models.Job, error) {
	return s.list(func(j *models.Job) bool {
		return j.Status == status && (after.IsZero() || listsBefore(after, CursorAt(j)))
	}, limit), nil
}

// listsBefore reports whether a comes before b in newest-first order.
func listsBefore(a, b Cursor) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (s *MemoryStore) list(keep func(*models.Job) bool, limit int) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []*models.Job{}
	for _, j := range s.jobs {
		if keep(j) {
			jobs = append(jobs, cloneJob(j))
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return listsBefore(CursorAt(jobs[a]), CursorAt(jobs[b]))
	})
	if n := NormalizeLimit(limit); len(jobs) > n {
		jobs = jobs[:n]
	}
	return jobs
}

func (s *MemoryStore) ClaimTrigger(_ context.Context, id uuid.UUID, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != models.JobStatusPending {
		return fmt.Errorf("%w: job is %s", ErrConditionFailed, j.Status)
	}
	if j.RunHandle != nil {
		return fmt.Errorf("%w: run %s already started", ErrConditionFailed, *j.RunHandle)
	}
	now := s.now()
	if claimedAt, held := s.claims[id]; held && !claimedAt.Before(now.Add(-lease)) {
		return fmt.Errorf("%w: trigger already in progress", ErrConditionFailed)
	}
	s.claims[id] = now
	return nil
}

func (s *MemoryStore) ReleaseTrigger(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok && j.Status == models.JobStatusPending {
		delete(s.claims, id)
	}
	return nil
}

func (s *MemoryStore) PinRun(_ context.Context, id uuid.UUID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != models.JobStatusPending {
		return fmt.Errorf("%w: job is %s", ErrConditionFailed, j.Status)
	}
	if j.RunHandle != nil && *j.RunHandle != handle {
		return fmt.Errorf("%w: run %s already pinned", ErrConditionFailed, *j.RunHandle)
	}
	j.RunHandle = &handle
	j.UpdatedAt = s.now()
	delete(s.claims, id)
	return nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, id uuid.UUID, from, to string, opts ...JobUpdateOption) (*models.Job, error) {
	if !ValidTransition(from, to) {
		return nil, fmt.Errorf("invalid job status transition: %s -> %s", from, to)
	}
	params := applyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != from {
		return nil, fmt.Errorf("%w: job is %s", ErrConditionFailed, j.Status)
	}

	j.Status = to
	j.UpdatedAt = s.now()
	if params.RunHandle != nil && j.RunHandle == nil {
		h := *params.RunHandle
		j.RunHandle = &h
	}
	if params.ProcessingTime != nil {
		secs := *params.ProcessingTime
		j.ProcessingTime = &secs
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		j.ErrorMessage = &msg
	}
	delete(s.claims, id)

	return cloneJob(j), nil
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	if j.RunHandle != nil {
		h := *j.RunHandle
		c.RunHandle = &h
	}
	if j.ProcessingTime != nil {
		p := *j.ProcessingTime
		c.ProcessingTime = &p
	}
	if j.ErrorMessage != nil {
		m := *j.ErrorMessage
		c.ErrorMessage = &m
	}
	return &c
}

// Compile-time checks that both backends implement Store.
var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
