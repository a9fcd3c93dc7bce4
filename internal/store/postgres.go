package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

const jobColumns = `id, file_name, status, input_key, file_size, run_handle, processing_time_secs, error_message, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, file_name, status, input_key, file_size, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.FileName, job.Status, job.InputKey, job.FileSize, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id LIMIT $1`, NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, status string, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at DESC, id LIMIT $2`,
		status, NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ListJobsByStatusAfter(ctx context.Context, status string, after Cursor, limit int) ([]*models.Job, error) {
	if after.IsZero() {
		return s.ListJobsByStatus(ctx, status, limit)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = $1 AND (created_at < $2 OR (created_at = $2 AND id > $3))
		 ORDER BY created_at DESC, id LIMIT $4`,
		status, after.CreatedAt, after.ID, NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status after: %w", err)
	}
	return collectJobs(rows)
}

// ClaimTrigger stamps and compares claims with the database clock so that
// replicas with skewed clocks agree on when a lease has expired.
func (s *PostgresStore) ClaimTrigger(ctx context.Context, id uuid.UUID, lease time.Duration) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET trigger_claimed_at = now()
		 WHERE id = $1 AND status = $2 AND run_handle IS NULL
		   AND (trigger_claimed_at IS NULL
		        OR trigger_claimed_at < now() - make_interval(secs => $3))`,
		id, models.JobStatusPending, lease.Seconds())
	if err != nil {
		return fmt.Errorf("claim trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conditionError(ctx, id)
	}
	return nil
}

func (s *PostgresStore) ReleaseTrigger(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET trigger_claimed_at = NULL WHERE id = $1 AND status = $2`,
		id, models.JobStatusPending)
	if err != nil {
		return fmt.Errorf("release trigger: %w", err)
	}
	return nil
}

func (s *PostgresStore) PinRun(ctx context.Context, id uuid.UUID, handle string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET run_handle = $2, trigger_claimed_at = NULL, updated_at = $3
		 WHERE id = $1 AND status = $4 AND (run_handle IS NULL OR run_handle = $2)`,
		id, handle, s.now(), models.JobStatusPending)
	if err != nil {
		return fmt.Errorf("pin run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conditionError(ctx, id)
	}
	return nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, from, to string, opts ...JobUpdateOption) (*models.Job, error) {
	if !ValidTransition(from, to) {
		return nil, fmt.Errorf("invalid job status transition: %s -> %s", from, to)
	}
	params := applyOptions(opts)

	query := `UPDATE jobs SET status = $3, updated_at = $4, trigger_claimed_at = NULL`
	args := []any{id, from, to, s.now()}
	argIdx := 5

	if params.RunHandle != nil {
		query += fmt.Sprintf(", run_handle = COALESCE(run_handle, $%d)", argIdx)
		args = append(args, *params.RunHandle)
		argIdx++
	}
	if params.ProcessingTime != nil {
		query += fmt.Sprintf(", processing_time_secs = $%d", argIdx)
		args = append(args, *params.ProcessingTime)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}

	query += " WHERE id = $1 AND status = $2 RETURNING " + jobColumns

	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.conditionError(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}
	return j, nil
}

// conditionError tells a missing job apart from a guarded write that lost.
func (s *PostgresStore) conditionError(ctx context.Context, id uuid.UUID) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: job is %s", ErrConditionFailed, current)
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	if err := row.Scan(&j.ID, &j.FileName, &j.Status, &j.InputKey, &j.FileSize, &j.RunHandle,
		&j.ProcessingTime, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
