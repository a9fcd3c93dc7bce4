// Package glue runs conversions as AWS Glue job runs.
package glue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsglue "github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/artifactflow/internal/config"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// Job arguments read by the Glue script.
const (
	ArgInputKey = "--INPUT_S3_KEY"
	ArgJobID    = "--JOB_ID_ARG"
)

// API is the subset of the Glue client used by Engine.
type API interface {
	StartJobRun(ctx context.Context, params *awsglue.StartJobRunInput, optFns ...func(*awsglue.Options)) (*awsglue.StartJobRunOutput, error)
	GetJobRun(ctx context.Context, params *awsglue.GetJobRunInput, optFns ...func(*awsglue.Options)) (*awsglue.GetJobRunOutput, error)
}

type Engine struct {
	api     API
	jobName string
}

// NewEngine builds a Glue client from the default AWS credential chain.
func NewEngine(ctx context.Context, cfg config.GlueConfig) (*Engine, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return New(awsglue.NewFromConfig(awsCfg), cfg.JobName), nil
}

func New(api API, jobName string) *Engine {
	return &Engine{api: api, jobName: jobName}
}

func (e *Engine) Name() string { return "glue" }

func (e *Engine) StartRun(ctx context.Context, inputKey string, jobID uuid.UUID) (string, error) {
	out, err := e.api.StartJobRun(ctx, &awsglue.StartJobRunInput{
		JobName: aws.String(e.jobName),
		Arguments: map[string]string{
			ArgInputKey: inputKey,
			ArgJobID:    jobID.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: start job run: %w", models.ErrEngineUnavailable, err)
	}
	if out.JobRunId == nil || *out.JobRunId == "" {
		return "", fmt.Errorf("%w: start job run returned no run id", models.ErrEngineUnavailable)
	}
	return *out.JobRunId, nil
}

func (e *Engine) GetRun(ctx context.Context, handle string) (*models.Run, error) {
	out, err := e.api.GetJobRun(ctx, &awsglue.GetJobRunInput{
		JobName: aws.String(e.jobName),
		RunId:   aws.String(handle),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get job run %s: %w", models.ErrEngineUnavailable, handle, err)
	}
	if out.JobRun == nil {
		return nil, fmt.Errorf("%w: get job run %s: %w", models.ErrEngineUnavailable, handle, errors.New("empty response"))
	}

	jr := out.JobRun
	run := &models.Run{
		Handle:     handle,
		State:      mapState(jr.JobRunState),
		ErrorCause: aws.ToString(jr.ErrorMessage),
	}
	if jr.StartedOn != nil {
		run.StartedAt = *jr.StartedOn
	}
	if jr.CompletedOn != nil {
		run.CompletedAt = *jr.CompletedOn
	}
	if jr.JobRunState == types.JobRunStateStopped && run.ErrorCause == "" {
		run.ErrorCause = "job run was stopped"
	}
	return run, nil
}

// mapState folds Glue run states into engine-neutral ones. Anything not
// finished counts as executing.
func mapState(s types.JobRunState) models.RunState {
	switch s {
	case types.JobRunStateSucceeded:
		return models.RunSucceeded
	case types.JobRunStateFailed, types.JobRunStateStopped:
		return models.RunFailed
	case types.JobRunStateError:
		return models.RunErrored
	case types.JobRunStateTimeout, types.JobRunState("EXPIRED"):
		return models.RunTimedOut
	default:
		return models.RunExecuting
	}
}
