package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// OutputObjectName is the object the processing engine writes under the job prefix.
const OutputObjectName = "output.json"

// Job tracks one artifact conversion. The client receives a job ID on POST /upload,
// triggers it with POST /trigger-job and polls GET /job-status/{jobId} until the
// status is COMPLETED or FAILED.
type Job struct {
	ID             uuid.UUID `db:"id"                   json:"jobId"`
	FileName       string    `db:"file_name"            json:"fileName"`
	Status         string    `db:"status"               json:"status"`
	InputKey       string    `db:"input_key"            json:"-"`
	FileSize       int64     `db:"file_size"            json:"fileSize"`
	RunHandle      *string   `db:"run_handle"           json:"runHandle,omitempty"`
	ProcessingTime *int64    `db:"processing_time_secs" json:"processingTime,omitempty"`
	ErrorMessage   *string   `db:"error_message"        json:"errorMessage,omitempty"`
	CreatedAt      time.Time `db:"created_at"           json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at"           json:"updatedAt"`
}

// IsTerminal reports whether no further transitions can happen from status.
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// InputKey derives the storage key the client uploads to.
func InputKey(id uuid.UUID, fileName string) string {
	return id.String() + "/" + fileName
}

// OutputKey derives the storage key of the converted artifact. It is never
// persisted; the engine writes to the same layout.
func OutputKey(id uuid.UUID) string {
	return id.String() + "/" + OutputObjectName
}
