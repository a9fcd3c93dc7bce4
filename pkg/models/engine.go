// Package models contains shared data models used across the artifactflow codebase.
package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEngineUnavailable wraps every failure to reach or use the processing engine.
// Callers treat it as transient.
var ErrEngineUnavailable = errors.New("processing engine unavailable")

// RunState is the engine-neutral state of an external processing run.
type RunState string

const (
	RunExecuting RunState = "EXECUTING"
	RunSucceeded RunState = "SUCCEEDED"
	RunFailed    RunState = "FAILED"
	RunErrored   RunState = "ERRORED"
	RunTimedOut  RunState = "TIMED_OUT"
)

// IsFailure reports whether s is one of the failure variants.
func (s RunState) IsFailure() bool {
	return s == RunFailed || s == RunErrored || s == RunTimedOut
}

// Run is a snapshot of an external processing run.
type Run struct {
	Handle      string
	State       RunState
	StartedAt   time.Time
	CompletedAt time.Time
	ErrorCause  string
}

// Engine is the contract every batch-processing integration implements.
// Never call a specific engine directly; always inject this interface.
type Engine interface {
	// StartRun starts exactly one run converting the object at inputKey and
	// returns the engine's handle for it. It must return once ctx is done.
	StartRun(ctx context.Context, inputKey string, jobID uuid.UUID) (string, error)
	// GetRun returns the current state of the run identified by handle.
	GetRun(ctx context.Context, handle string) (*Run, error)
	// Name returns the engine identifier (e.g., "glue", "workflows").
	Name() string
}
