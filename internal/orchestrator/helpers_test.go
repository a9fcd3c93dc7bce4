package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/capability"
	"github.com/kiranshivaraju/artifactflow/internal/engine/mock"
	"github.com/kiranshivaraju/artifactflow/internal/orchestrator"
	"github.com/kiranshivaraju/artifactflow/internal/store"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
	"github.com/stretchr/testify/require"
)

// --- issuer fakes ---

type fakeIssuer struct {
	err error
}

func (f *fakeIssuer) Name() string { return "fake" }

func (f *fakeIssuer) IssueWrite(_ context.Context, location string, ttl time.Duration) (*capability.Capability, error) {
	return f.issue("etl-input", location, capability.OperationWrite, ttl)
}

func (f *fakeIssuer) IssueRead(_ context.Context, location string, ttl time.Duration) (*capability.Capability, error) {
	return f.issue("etl-output", location, capability.OperationRead, ttl)
}

func (f *fakeIssuer) issue(bucket, location string, op capability.Operation, ttl time.Duration) (*capability.Capability, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &capability.Capability{
		URL:       "https://storage.test/" + bucket + "/" + location + "?op=" + string(op),
		Bucket:    bucket,
		Location:  location,
		Operation: op,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

type verifyingIssuer struct {
	fakeIssuer
	mu       sync.Mutex
	uploaded map[string]bool
	err      error
}

func (v *verifyingIssuer) InputExists(_ context.Context, location string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return false, v.err
	}
	return v.uploaded[location], nil
}

// --- cache fake ---

type fakeCache struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]models.Job
	err  error
}

func newFakeCache() *fakeCache { return &fakeCache{jobs: make(map[uuid.UUID]models.Job)} }

func (c *fakeCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (c *fakeCache) Get(context.Context, string) ([]byte, bool, error)       { return nil, false, nil }
func (c *fakeCache) Ping(context.Context) error                               { return nil }
func (c *fakeCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func (c *fakeCache) SetTerminalJob(_ context.Context, job *models.Job, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.jobs[job.ID] = *job
	return nil
}

func (c *fakeCache) GetTerminalJob(_ context.Context, id uuid.UUID) (*models.Job, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	j, ok := c.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return &j, true, nil
}

// --- store wrappers ---

// flakyStore fails the first failUpdates status writes with a transient error.
// With failPins set, every PinRun fails too.
type flakyStore struct {
	*store.MemoryStore
	failUpdates atomic.Int64
	updateCalls atomic.Int64
	failPins    atomic.Bool
}

var errTransient = errors.New("connection refused")

func (f *flakyStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, from, to string, opts ...store.JobUpdateOption) (*models.Job, error) {
	f.updateCalls.Add(1)
	if f.failUpdates.Add(-1) >= 0 {
		return nil, errTransient
	}
	return f.MemoryStore.UpdateJobStatus(ctx, id, from, to, opts...)
}

func (f *flakyStore) PinRun(ctx context.Context, id uuid.UUID, handle string) error {
	if f.failPins.Load() {
		return errTransient
	}
	return f.MemoryStore.PinRun(ctx, id, handle)
}

// racingStore lets a competing writer win every RUNNING -> terminal transition
// just before the caller's own write.
type racingStore struct {
	*store.MemoryStore
	competitorSecs int64
}

func (r *racingStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, from, to string, opts ...store.JobUpdateOption) (*models.Job, error) {
	if from == models.JobStatusRunning {
		_, _ = r.MemoryStore.UpdateJobStatus(ctx, id, from, models.JobStatusCompleted,
			store.WithProcessingTime(r.competitorSecs))
	}
	return r.MemoryStore.UpdateJobStatus(ctx, id, from, to, opts...)
}

// --- fixtures ---

type fixture struct {
	svc    *orchestrator.Service
	store  *store.MemoryStore
	engine *mock.Engine
	issuer *fakeIssuer
}

func testConfig() orchestrator.Config {
	return orchestrator.Config{
		AcceptedExtension:    ".parquet",
		OutputExtension:      ".json",
		UploadTTL:            time.Hour,
		DownloadTTL:          time.Hour,
		TriggerLease:         time.Minute,
		EngineQueryTimeout:   time.Second,
		StateWriteRetries:    3,
		RetryInitialInterval: time.Millisecond,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	eng := mock.NewEngine()
	iss := &fakeIssuer{}
	return &fixture{
		svc:    orchestrator.NewService(st, eng, iss, nil, testConfig()),
		store:  st,
		engine: eng,
		issuer: iss,
	}
}

// ingest creates a PENDING job through the service.
func (f *fixture) ingest(t *testing.T, fileName string) uuid.UUID {
	t.Helper()
	up, err := f.svc.Ingest(context.Background(), fileName, 1024)
	require.NoError(t, err)
	return up.JobID
}

// running creates a job and triggers it, returning its id and run handle.
func (f *fixture) running(t *testing.T, fileName string) (uuid.UUID, string) {
	t.Helper()
	id := f.ingest(t, fileName)
	job, err := f.svc.Trigger(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job.RunHandle)
	return id, *job.RunHandle
}

func (f *fixture) finish(handle string, state models.RunState, dur time.Duration, cause string) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.engine.SetRun(models.Run{
		Handle:      handle,
		State:       state,
		StartedAt:   start,
		CompletedAt: start.Add(dur),
		ErrorCause:  cause,
	})
}
