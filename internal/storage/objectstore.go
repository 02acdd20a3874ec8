package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-service/internal/config"
)

// Sentinel errors for evidence retrieval.
var (
	// ErrNotFound signals the referenced artifact does not exist.
	ErrNotFound = errors.New("evidence artifact not found")
	// ErrUnavailable signals the object store could not be reached.
	ErrUnavailable = errors.New("object storage unavailable")
)

// ObjectStore wraps an S3-compatible bucket (MinIO in deployment) holding
// evidence artifacts.
type ObjectStore struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	uploadTTL time.Duration
	viewTTL   time.Duration
	logger    *zap.Logger
}

// NewObjectStore builds an S3 client against the configured endpoint.
func NewObjectStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*ObjectStore, error) {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &ObjectStore{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		uploadTTL: time.Duration(cfg.UploadTTLSeconds) * time.Second,
		viewTTL:   time.Duration(cfg.ViewTTLSeconds) * time.Second,
		logger:    logger,
	}, nil
}

// Fetch returns the raw bytes of a stored evidence artifact.
func (s *ObjectStore) Fetch(ctx context.Context, reference string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(reference),
	})
	if err != nil {
		return nil, classifyError(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, reference, err)
	}
	return data, nil
}

// Exists reports whether the referenced artifact is present.
func (s *ObjectStore) Exists(ctx context.Context, reference string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(reference),
	})
	if err != nil {
		if errors.Is(classifyError(err), ErrNotFound) {
			return false, nil
		}
		return false, classifyError(err)
	}
	return true, nil
}

// Upload stores an artifact server-side (used for the NFC chip image).
func (s *ObjectStore) Upload(ctx context.Context, reference string, content []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(reference),
		Body:   bytes.NewReader(content),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return classifyError(err)
	}
	return nil
}

// PresignUpload returns a presigned PUT URL for client-side evidence upload.
func (s *ObjectStore) PresignUpload(ctx context.Context, reference, contentType string) (string, time.Duration, error) {
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(reference),
		ContentType: aws.String(contentType),
	}, func(o *s3.PresignOptions) { o.Expires = s.uploadTTL })
	if err != nil {
		return "", 0, classifyError(err)
	}
	return req.URL, s.uploadTTL, nil
}

// PresignView returns a presigned GET URL for operator inspection.
func (s *ObjectStore) PresignView(ctx context.Context, reference string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(reference),
	}, func(o *s3.PresignOptions) { o.Expires = s.viewTTL })
	if err != nil {
		return "", classifyError(err)
	}
	return req.URL, nil
}

func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.ErrorCode())
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
