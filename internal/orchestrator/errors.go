package orchestrator

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("job not found")
	ErrInvalidState      = errors.New("invalid job state")
	ErrNotReady          = errors.New("job result not ready")
	ErrEngineUnavailable = errors.New("processing engine unavailable")
	ErrStoreUnavailable  = errors.New("job store unavailable")
)
