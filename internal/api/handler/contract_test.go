package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/api"
	"github.com/kiranshivaraju/artifactflow/internal/api/handler"
	mw "github.com/kiranshivaraju/artifactflow/internal/api/middleware"
	"github.com/kiranshivaraju/artifactflow/internal/cache"
	"github.com/kiranshivaraju/artifactflow/internal/capability"
	"github.com/kiranshivaraju/artifactflow/internal/engine/mock"
	"github.com/kiranshivaraju/artifactflow/internal/orchestrator"
	"github.com/kiranshivaraju/artifactflow/internal/store"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type urlIssuer struct{}

func (urlIssuer) Name() string { return "fake" }

func (urlIssuer) IssueWrite(_ context.Context, location string, ttl time.Duration) (*capability.Capability, error) {
	return &capability.Capability{
		URL:       "https://storage.test/etl-input/" + location + "?op=write",
		Bucket:    "etl-input",
		Location:  location,
		Operation: capability.OperationWrite,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (urlIssuer) IssueRead(_ context.Context, location string, ttl time.Duration) (*capability.Capability, error) {
	return &capability.Capability{
		URL:       "https://storage.test/etl-output/" + location + "?op=read",
		Bucket:    "etl-output",
		Location:  location,
		Operation: capability.OperationRead,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

type counterCache struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *counterCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *counterCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *counterCache) Ping(_ context.Context) error                                      { return nil }
func (c *counterCache) SetTerminalJob(_ context.Context, _ *models.Job, _ time.Duration) error {
	return nil
}
func (c *counterCache) GetTerminalJob(_ context.Context, _ uuid.UUID) (*models.Job, bool, error) {
	return nil, false, nil
}
func (c *counterCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

var _ cache.Cache = (*counterCache)(nil)

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server *httptest.Server
	store  *store.MemoryStore
	engine *mock.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.NewMemoryStore()
	eng := mock.NewEngine()
	svc := orchestrator.NewService(st, eng, urlIssuer{}, nil, orchestrator.Config{
		AcceptedExtension:    ".parquet",
		OutputExtension:      ".json",
		UploadTTL:            time.Hour,
		DownloadTTL:          time.Hour,
		TriggerLease:         time.Minute,
		EngineQueryTimeout:   time.Second,
		StateWriteRetries:    3,
		RetryInitialInterval: time.Millisecond,
	})

	router := api.NewRouter(api.Dependencies{
		RateLimit: mw.NewRateLimit(&counterCache{counts: map[string]int64{}}, 1000),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		UploadHandler:   handler.NewUploadHandler(svc),
		TriggerHandler:  handler.NewTriggerHandler(svc),
		ListJobsHandler: handler.NewListJobsHandler(svc),
		StatusHandler:   handler.NewStatusHandler(svc),
		DownloadHandler: handler.NewDownloadHandler(svc),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{server: srv, store: st, engine: eng}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (ts *testServer) upload(t *testing.T, fileName string) string {
	t.Helper()
	code, body := ts.do(t, "POST", "/upload", map[string]any{"fileName": fileName, "fileSize": 1024})
	require.Equal(t, http.StatusOK, code, body)
	return body["jobId"].(string)
}

func (ts *testServer) trigger(t *testing.T, jobID string) string {
	t.Helper()
	code, body := ts.do(t, "POST", "/trigger-job", map[string]string{"jobId": jobID})
	require.Equal(t, http.StatusOK, code, body)
	return body["runHandle"].(string)
}

func codeOf(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func (ts *testServer) completeRun(handle string, took time.Duration) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ts.engine.SetRun(models.Run{
		Handle:      handle,
		State:       models.RunSucceeded,
		StartedAt:   start,
		CompletedAt: start.Add(took),
	})
}

// ─── POST /upload ────────────────────────────────────────────────────────────

func TestContract_Upload_200(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, "POST", "/upload", map[string]any{"fileName": "data.parquet", "fileSize": 1024})

	require.Equal(t, http.StatusOK, code)
	id, err := uuid.Parse(body["jobId"].(string))
	require.NoError(t, err)
	assert.Equal(t, "https://storage.test/etl-input/"+id.String()+"/data.parquet?op=write", body["uploadCapability"])
	assert.Equal(t, float64(3600), body["expiresIn"])

	job, err := ts.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, int64(1024), job.FileSize)
}

func TestContract_Upload_400_WrongExtension(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, "POST", "/upload", map[string]any{"fileName": "data.csv", "fileSize": 10})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", codeOf(body))

	jobs, err := ts.store.ListJobs(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected upload must not create a record")
}

// ─── POST /trigger-job ───────────────────────────────────────────────────────

func TestContract_Trigger_200(t *testing.T) {
	ts := newTestServer(t)
	jobID := ts.upload(t, "data.parquet")

	code, body := ts.do(t, "POST", "/trigger-job", map[string]string{"jobId": jobID})

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, jobID, body["jobId"])
	assert.Equal(t, "RUNNING", body["status"])
	assert.NotEmpty(t, body["runHandle"])

	starts := ts.engine.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, jobID+"/data.parquet", starts[0].InputKey)
}

func TestContract_Trigger_409_Retrigger(t *testing.T) {
	ts := newTestServer(t)
	jobID := ts.upload(t, "data.parquet")
	ts.trigger(t, jobID)

	code, body := ts.do(t, "POST", "/trigger-job", map[string]string{"jobId": jobID})

	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE", codeOf(body))
	assert.Equal(t, 1, ts.engine.StartCount())
}

func TestContract_Trigger_404_UnknownJob(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, "POST", "/trigger-job", map[string]string{"jobId": uuid.NewString()})

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", codeOf(body))
}

func TestContract_Trigger_Concurrent_ExactlyOneWins(t *testing.T) {
	ts := newTestServer(t)
	jobID := ts.upload(t, "data.parquet")

	const callers = 10
	codes := make(chan int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest("POST", ts.server.URL+"/trigger-job",
				strings.NewReader(`{"jobId":"`+jobID+`"}`))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				codes <- 0
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	assert.Equal(t, 1, counts[http.StatusOK])
	assert.Equal(t, callers-1, counts[http.StatusConflict])
	assert.Equal(t, 1, ts.engine.StartCount())
}

// ─── GET /job-status/{jobId} ─────────────────────────────────────────────────

func TestContract_Status_ReconcilesOnRead(t *testing.T) {
	ts := newTestServer(t)
	jobID := ts.upload(t, "data.parquet")
	handle := ts.trigger(t, jobID)

	code, body := ts.do(t, "GET", "/job-status/"+jobID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "RUNNING", body["status"])
	assert.NotContains(t, body, "processingTime")

	ts.completeRun(handle, 42*time.Second)

	code, body = ts.do(t, "GET", "/job-status/"+jobID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, jobID, body["jobId"])
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, "data.parquet", body["fileName"])
	assert.Equal(t, float64(42), body["processingTime"])
	assert.NotEmpty(t, body["createdAt"])
	assert.NotEmpty(t, body["updatedAt"])
	assert.NotContains(t, body, "inputKey")
}

func TestContract_Status_EngineFailureKeepsRunning(t *testing.T) {
	ts := newTestServer(t)
	jobID := ts.upload(t, "data.parquet")
	ts.trigger(t, jobID)

	ts.engine.GetRunFunc = func(context.Context, string) (*models.Run, error) {
		return nil, models.ErrEngineUnavailable
	}

	code, body := ts.do(t, "GET", "/job-status/"+jobID, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "RUNNING", body["status"])
}

func TestContract_Status_Failed(t *testing.T) {
	ts := newTestServer(t)
	jobID := ts.upload(t, "data.parquet")
	handle := ts.trigger(t, jobID)

	ts.engine.SetRun(models.Run{Handle: handle, State: models.RunFailed, ErrorCause: "schema mismatch"})

	code, body := ts.do(t, "GET", "/job-status/"+jobID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "FAILED", body["status"])
	assert.Equal(t, "schema mismatch", body["errorMessage"])
}

func TestContract_Status_404(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, "GET", "/job-status/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", codeOf(body))
}

// ─── GET /download/{jobId} ───────────────────────────────────────────────────

func TestContract_Download_409_NotReady(t *testing.T) {
	ts := newTestServer(t)
	jobID := ts.upload(t, "data.parquet")

	code, body := ts.do(t, "GET", "/download/"+jobID, nil)

	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "NOT_READY", codeOf(body))
}

func TestContract_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	jobID := ts.upload(t, "data.parquet")
	handle := ts.trigger(t, jobID)
	ts.completeRun(handle, 42*time.Second)

	_, status := ts.do(t, "GET", "/job-status/"+jobID, nil)
	require.Equal(t, "COMPLETED", status["status"])

	code, body := ts.do(t, "GET", "/download/"+jobID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://storage.test/etl-output/"+jobID+"/output.json?op=read", body["downloadCapability"])
	assert.Equal(t, "data.json", body["fileName"])
	assert.Equal(t, float64(3600), body["expiresIn"])
}

// ─── GET /jobs ───────────────────────────────────────────────────────────────

func TestContract_ListJobs_NewestFirst(t *testing.T) {
	ts := newTestServer(t)
	first := ts.upload(t, "a.parquet")
	time.Sleep(2 * time.Millisecond)
	second := ts.upload(t, "b.parquet")

	code, body := ts.do(t, "GET", "/jobs", nil)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])
	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 2)
	assert.Equal(t, second, jobs[0].(map[string]any)["jobId"])
	assert.Equal(t, first, jobs[1].(map[string]any)["jobId"])
}

func TestContract_ListJobs_400_UnknownStatus(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, "GET", "/jobs?status=DONE", nil)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", codeOf(body))
}
