package capability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/kiranshivaraju/artifactflow/internal/config"
)

// GCSIssuer produces V4 signed URLs locally from a service account key.
// It does not implement InputVerifier.
type GCSIssuer struct {
	serviceAccount string
	privateKey     []byte
	inputBucket    string
	outputBucket   string
	now            func() time.Time
}

func NewGCSIssuer(cfg config.StorageConfig) (*GCSIssuer, error) {
	key, err := os.ReadFile(cfg.GCS.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read GCS private key: %w", err)
	}
	return newGCSIssuer(cfg.GCS.ServiceAccount, key, cfg.InputBucket, cfg.OutputBucket), nil
}

func newGCSIssuer(serviceAccount string, privateKey []byte, inputBucket, outputBucket string) *GCSIssuer {
	return &GCSIssuer{
		serviceAccount: serviceAccount,
		privateKey:     privateKey,
		inputBucket:    inputBucket,
		outputBucket:   outputBucket,
		now:            time.Now,
	}
}

func (i *GCSIssuer) Name() string { return "gcs" }

func (i *GCSIssuer) IssueWrite(_ context.Context, location string, ttl time.Duration) (*Capability, error) {
	return i.sign(i.inputBucket, location, http.MethodPut, OperationWrite, ttl)
}

func (i *GCSIssuer) IssueRead(_ context.Context, location string, ttl time.Duration) (*Capability, error) {
	return i.sign(i.outputBucket, location, http.MethodGet, OperationRead, ttl)
}

func (i *GCSIssuer) sign(bucket, location, method string, op Operation, ttl time.Duration) (*Capability, error) {
	if err := checkTTL(ttl); err != nil {
		return nil, err
	}
	expiresAt := i.now().Add(ttl)
	u, err := storage.SignedURL(bucket, location, &storage.SignedURLOptions{
		GoogleAccessID: i.serviceAccount,
		PrivateKey:     i.privateKey,
		Method:         method,
		Expires:        expiresAt,
		Scheme:         storage.SigningSchemeV4,
	})
	if err != nil {
		return nil, fmt.Errorf("sign %s %s: %w", method, location, err)
	}
	return &Capability{
		URL:       u,
		Bucket:    bucket,
		Location:  location,
		Operation: op,
		ExpiresAt: expiresAt,
	}, nil
}
