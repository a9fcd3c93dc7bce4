// Package mock provides a programmable models.Engine for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// StartCall records the arguments of one StartRun call.
type StartCall struct {
	InputKey string
	JobID    uuid.UUID
	Handle   string
}

// Engine satisfies models.Engine for testing. StartRunFunc and GetRunFunc
// override the default behavior when set.
type Engine struct {
	Name_        string
	StartRunFunc func(ctx context.Context, inputKey string, jobID uuid.UUID) (string, error)
	GetRunFunc   func(ctx context.Context, handle string) (*models.Run, error)

	startCount atomic.Int64
	getCount   atomic.Int64

	mu     sync.Mutex
	runs   map[string]models.Run
	starts []StartCall
}

// NewEngine returns an Engine whose runs are executing until SetRun says otherwise.
func NewEngine() *Engine {
	return &Engine{Name_: "mock", runs: make(map[string]models.Run)}
}

// NewFailingEngine returns an Engine whose every call fails with err wrapped
// in models.ErrEngineUnavailable.
func NewFailingEngine(err error) *Engine {
	e := NewEngine()
	e.Name_ = "mock-failing"
	e.StartRunFunc = func(context.Context, string, uuid.UUID) (string, error) {
		return "", fmt.Errorf("%w: %w", models.ErrEngineUnavailable, err)
	}
	e.GetRunFunc = func(context.Context, string) (*models.Run, error) {
		return nil, fmt.Errorf("%w: %w", models.ErrEngineUnavailable, err)
	}
	return e
}

// NewTimeoutEngine returns an Engine whose GetRun blocks until ctx is done.
func NewTimeoutEngine() *Engine {
	e := NewEngine()
	e.Name_ = "mock-timeout"
	e.GetRunFunc = func(ctx context.Context, _ string) (*models.Run, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", models.ErrEngineUnavailable, ctx.Err())
	}
	return e
}

func (e *Engine) Name() string { return e.Name_ }

func (e *Engine) StartRun(ctx context.Context, inputKey string, jobID uuid.UUID) (string, error) {
	n := e.startCount.Add(1)
	var (
		handle string
		err    error
	)
	if e.StartRunFunc != nil {
		handle, err = e.StartRunFunc(ctx, inputKey, jobID)
	} else {
		handle = fmt.Sprintf("jr_%d", n)
	}
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts = append(e.starts, StartCall{InputKey: inputKey, JobID: jobID, Handle: handle})
	if _, ok := e.runs[handle]; !ok {
		e.runs[handle] = models.Run{Handle: handle, State: models.RunExecuting}
	}
	return handle, nil
}

func (e *Engine) GetRun(ctx context.Context, handle string) (*models.Run, error) {
	e.getCount.Add(1)
	if e.GetRunFunc != nil {
		return e.GetRunFunc(ctx, handle)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: unknown run %s", models.ErrEngineUnavailable, handle)
	}
	return &run, nil
}

// SetRun programs the state GetRun reports for run.Handle.
func (e *Engine) SetRun(run models.Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[run.Handle] = run
}

// Starts returns the successful StartRun calls in order.
func (e *Engine) Starts() []StartCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]StartCall(nil), e.starts...)
}

// StartCount counts every StartRun call, failed ones included.
func (e *Engine) StartCount() int { return int(e.startCount.Load()) }

// GetCount counts every GetRun call.
func (e *Engine) GetCount() int { return int(e.getCount.Load()) }

// Compile-time check that Engine implements models.Engine.
var _ models.Engine = (*Engine)(nil)
