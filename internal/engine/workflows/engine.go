// Package workflows runs conversions as Google Cloud Workflows executions.
package workflows

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/google/uuid"
	"github.com/googleapis/gax-go/v2"
	"github.com/kiranshivaraju/artifactflow/internal/config"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// API is the subset of the executions client used by Engine.
type API interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
	GetExecution(ctx context.Context, req *executionspb.GetExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// Argument is the JSON payload every execution receives.
type Argument struct {
	InputKey string `json:"inputKey"`
	JobID    string `json:"jobId"`
}

type Engine struct {
	api    API
	parent string
	close  func() error
}

// NewEngine dials the executions API with application default credentials.
func NewEngine(ctx context.Context, cfg config.WorkflowsConfig) (*Engine, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create executions client: %w", err)
	}
	e := New(client, cfg)
	e.close = client.Close
	return e, nil
}

func New(api API, cfg config.WorkflowsConfig) *Engine {
	return &Engine{
		api:    api,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", cfg.ProjectID, cfg.Location, cfg.WorkflowID),
	}
}

func (e *Engine) Name() string { return "workflows" }

func (e *Engine) Close() error {
	if e.close == nil {
		return nil
	}
	return e.close()
}

func (e *Engine) StartRun(ctx context.Context, inputKey string, jobID uuid.UUID) (string, error) {
	arg, err := json.Marshal(Argument{InputKey: inputKey, JobID: jobID.String()})
	if err != nil {
		return "", fmt.Errorf("marshal execution argument: %w", err)
	}
	exec, err := e.api.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent:    e.parent,
		Execution: &executionspb.Execution{Argument: string(arg)},
	})
	if err != nil {
		return "", fmt.Errorf("%w: create execution: %w", models.ErrEngineUnavailable, err)
	}
	if exec.GetName() == "" {
		return "", fmt.Errorf("%w: create execution returned no name", models.ErrEngineUnavailable)
	}
	return exec.GetName(), nil
}

func (e *Engine) GetRun(ctx context.Context, handle string) (*models.Run, error) {
	exec, err := e.api.GetExecution(ctx, &executionspb.GetExecutionRequest{Name: handle})
	if err != nil {
		return nil, fmt.Errorf("%w: get execution %s: %w", models.ErrEngineUnavailable, handle, err)
	}

	run := &models.Run{
		Handle: handle,
		State:  mapState(exec.GetState()),
	}
	if ts := exec.GetStartTime(); ts != nil {
		run.StartedAt = ts.AsTime()
	}
	if ts := exec.GetEndTime(); ts != nil {
		run.CompletedAt = ts.AsTime()
	}
	if ee := exec.GetError(); ee != nil {
		run.ErrorCause = ee.GetPayload()
	}
	if exec.GetState() == executionspb.Execution_CANCELLED && run.ErrorCause == "" {
		run.ErrorCause = "execution was cancelled"
	}
	return run, nil
}

func mapState(s executionspb.Execution_State) models.RunState {
	switch s {
	case executionspb.Execution_SUCCEEDED:
		return models.RunSucceeded
	case executionspb.Execution_FAILED, executionspb.Execution_CANCELLED:
		return models.RunFailed
	case executionspb.Execution_UNAVAILABLE:
		return models.RunErrored
	default:
		return models.RunExecuting
	}
}
