// Package capability issues short-lived, single-object, single-operation
// bearer URLs against the input and output buckets.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/artifactflow/internal/config"
)

// Operation is the one storage operation a capability grants.
type Operation string

const (
	OperationWrite Operation = "write"
	OperationRead  Operation = "read"
)

var ErrInvalidTTL = errors.New("capability ttl must be positive")

// Capability is a presigned URL scoped to exactly one object and one operation.
// Expiry is enforced by the storage service, not here.
type Capability struct {
	URL       string
	Bucket    string
	Location  string
	Operation Operation
	ExpiresAt time.Time
}

// Issuer signs capabilities. Writes are scoped to the input bucket, reads to
// the output bucket. Implementations hold no mutable state.
type Issuer interface {
	IssueWrite(ctx context.Context, location string, ttl time.Duration) (*Capability, error)
	IssueRead(ctx context.Context, location string, ttl time.Duration) (*Capability, error)
	Name() string
}

// InputVerifier is implemented by issuers that can check whether an object
// has been written to the input bucket.
type InputVerifier interface {
	InputExists(ctx context.Context, location string) (bool, error)
}

// NewIssuer builds the issuer selected by cfg.Provider.
func NewIssuer(ctx context.Context, cfg config.StorageConfig) (Issuer, error) {
	switch cfg.Provider {
	case "s3":
		return NewS3Issuer(ctx, cfg)
	case "minio":
		return NewMinIOIssuer(cfg)
	case "gcs":
		return NewGCSIssuer(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %q", cfg.Provider)
	}
}

func checkTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidTTL, ttl)
	}
	return nil
}
