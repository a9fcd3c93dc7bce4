package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/kiranshivaraju/artifactflow/internal/config"
)

type headObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Issuer presigns S3 PutObject/GetObject requests with SigV4.
type S3Issuer struct {
	client       headObjectAPI
	presigner    *s3.PresignClient
	inputBucket  string
	outputBucket string
	now          func() time.Time
}

// NewS3Issuer loads AWS credentials from the default chain, or uses the static
// keys when both are configured. A custom endpoint switches to path-style
// addressing for S3-compatible services.
func NewS3Issuer(ctx context.Context, cfg config.StorageConfig) (*S3Issuer, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3.Region)}
	if cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Issuer(client, cfg.InputBucket, cfg.OutputBucket), nil
}

func newS3Issuer(client *s3.Client, inputBucket, outputBucket string) *S3Issuer {
	return &S3Issuer{
		client:       client,
		presigner:    s3.NewPresignClient(client),
		inputBucket:  inputBucket,
		outputBucket: outputBucket,
		now:          time.Now,
	}
}

func (i *S3Issuer) Name() string { return "s3" }

func (i *S3Issuer) IssueWrite(ctx context.Context, location string, ttl time.Duration) (*Capability, error) {
	if err := checkTTL(ttl); err != nil {
		return nil, err
	}
	issuedAt := i.now()
	req, err := i.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(i.inputBucket),
		Key:    aws.String(location),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("presign put %s: %w", location, err)
	}
	return &Capability{
		URL:       req.URL,
		Bucket:    i.inputBucket,
		Location:  location,
		Operation: OperationWrite,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}

func (i *S3Issuer) IssueRead(ctx context.Context, location string, ttl time.Duration) (*Capability, error) {
	if err := checkTTL(ttl); err != nil {
		return nil, err
	}
	issuedAt := i.now()
	req, err := i.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(i.outputBucket),
		Key:    aws.String(location),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("presign get %s: %w", location, err)
	}
	return &Capability{
		URL:       req.URL,
		Bucket:    i.outputBucket,
		Location:  location,
		Operation: OperationRead,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}

func (i *S3Issuer) InputExists(ctx context.Context, location string) (bool, error) {
	_, err := i.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(i.inputBucket),
		Key:    aws.String(location),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return false, nil
	}
	return false, fmt.Errorf("head object %s: %w", location, err)
}
