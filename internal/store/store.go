package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

var ErrNotFound = errors.New("job not found")
var ErrAlreadyExists = errors.New("job already exists")

// ErrConditionFailed is returned when a conditional write finds the record in a
// state other than the one it was guarded on.
var ErrConditionFailed = errors.New("conditional update failed")

// Store is the data access interface. All job persistence goes through here.
// Every operation touches a single record.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// ListJobs returns jobs newest first, bounded by limit.
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)
	// ListJobsByStatus returns jobs in status newest first, bounded by limit.
	ListJobsByStatus(ctx context.Context, status string, limit int) ([]*models.Job, error)
	// ListJobsByStatusAfter continues a newest-first listing of status from
	// the job at after. A zero Cursor starts from the newest job.
	ListJobsByStatusAfter(ctx context.Context, status string, after Cursor, limit int) ([]*models.Job, error)

	// ClaimTrigger marks a pending job as being started. It fails with
	// ErrConditionFailed unless the job is pending, has no run pinned and
	// holds no live claim. Lease expiry is judged by the store's own clock.
	ClaimTrigger(ctx context.Context, id uuid.UUID, lease time.Duration) error
	ReleaseTrigger(ctx context.Context, id uuid.UUID) error
	// PinRun records the handle of a run started for a pending job before
	// its status write lands. A job with a pinned run can no longer be claimed.
	PinRun(ctx context.Context, id uuid.UUID, handle string) error

	// UpdateJobStatus moves a job from one status to the next, applying opts in
	// the same write. It fails with ErrConditionFailed when the job is not in from.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, from, to string, opts ...JobUpdateOption) (*models.Job, error)
}

var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

// ValidTransition reports whether from -> to is an edge of the job state machine.
func ValidTransition(from, to string) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// Cursor is a position in a newest-first job listing.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// IsZero reports whether c is the start of a listing.
func (c Cursor) IsZero() bool { return c.CreatedAt.IsZero() && c.ID == uuid.Nil }

// CursorAt returns the cursor positioned on job.
func CursorAt(job *models.Job) Cursor { return Cursor{CreatedAt: job.CreatedAt, ID: job.ID} }

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// NormalizeLimit clamps a caller-supplied list limit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

type jobUpdateParams struct {
	RunHandle      *string
	ProcessingTime *int64
	ErrorMessage   *string
}

type JobUpdateOption func(*jobUpdateParams)

// WithRunHandle records the external run handle. A handle already stored is kept.
func WithRunHandle(handle string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.RunHandle = &handle
	}
}

func WithProcessingTime(secs int64) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ProcessingTime = &secs
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func applyOptions(opts []JobUpdateOption) *jobUpdateParams {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}
