package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/artifactflow/internal/config"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOIssuer presigns requests against a MinIO deployment.
type MinIOIssuer struct {
	client       *minio.Client
	inputBucket  string
	outputBucket string
	now          func() time.Time
}

// NewMinIOIssuer creates the client without contacting the server. The region
// is fixed so presigning never needs a bucket-location lookup.
func NewMinIOIssuer(cfg config.StorageConfig) (*MinIOIssuer, error) {
	client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
		Secure: cfg.MinIO.UseSSL,
		Region: cfg.MinIO.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOIssuer{
		client:       client,
		inputBucket:  cfg.InputBucket,
		outputBucket: cfg.OutputBucket,
		now:          time.Now,
	}, nil
}

func (i *MinIOIssuer) Name() string { return "minio" }

func (i *MinIOIssuer) IssueWrite(ctx context.Context, location string, ttl time.Duration) (*Capability, error) {
	if err := checkTTL(ttl); err != nil {
		return nil, err
	}
	issuedAt := i.now()
	u, err := i.client.PresignedPutObject(ctx, i.inputBucket, location, ttl)
	if err != nil {
		return nil, fmt.Errorf("presign put %s: %w", location, err)
	}
	return &Capability{
		URL:       u.String(),
		Bucket:    i.inputBucket,
		Location:  location,
		Operation: OperationWrite,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}

func (i *MinIOIssuer) IssueRead(ctx context.Context, location string, ttl time.Duration) (*Capability, error) {
	if err := checkTTL(ttl); err != nil {
		return nil, err
	}
	issuedAt := i.now()
	u, err := i.client.PresignedGetObject(ctx, i.outputBucket, location, ttl, nil)
	if err != nil {
		return nil, fmt.Errorf("presign get %s: %w", location, err)
	}
	return &Capability{
		URL:       u.String(),
		Bucket:    i.outputBucket,
		Location:  location,
		Operation: OperationRead,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}

func (i *MinIOIssuer) InputExists(ctx context.Context, location string) (bool, error) {
	_, err := i.client.StatObject(ctx, i.inputBucket, location, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", location, err)
	}
	return true, nil
}
