package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	infraconfig "github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/config"
)

var _ integration.RecordSource = (*S3RecordSource)(nil)

// S3RecordSource reads crawler output files from an S3-compatible bucket
// (AWS S3, MinIO, RustFS).
type S3RecordSource struct {
	client  *s3.Client
	bucket  string
	prefix  string
	maxSize int64
	logger  *zap.Logger
}

// S3RecordSourceOption configures an S3RecordSource
type S3RecordSourceOption func(*S3RecordSource)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) S3RecordSourceOption {
	return func(s *S3RecordSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxObjectSize bounds the size of one object
func WithMaxObjectSize(n int64) S3RecordSourceOption {
	return func(s *S3RecordSource) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// NewS3RecordSource creates a record source from configuration. Credentials
// fall back to the default AWS chain when no static keys are configured.
func NewS3RecordSource(ctx context.Context, cfg *infraconfig.StorageConfig, opts ...S3RecordSourceOption) (*S3RecordSource, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return nil, errors.New("storage access key and secret key must be set together")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	var endpoint string
	if cfg.Endpoint != "" {
		endpoint = cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	src := &S3RecordSource{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		maxSize: DefaultMaxObjectSize,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(src)
	}
	src.logger = src.logger.Named("s3_source")
	return src, nil
}

// objectKey joins the configured prefix and a caller key
func (s *S3RecordSource) objectKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if s.prefix == "" {
		return key, nil
	}
	return path.Join(s.prefix, key), nil
}

// Fetch downloads and decodes one object
func (s *S3RecordSource) Fetch(ctx context.Context, ref integration.SourceRef) (*integration.RecordBatch, error) {
	key, err := s.objectKey(ref.Key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	if out.ContentLength != nil && *out.ContentLength > s.maxSize {
		return nil, fmt.Errorf("%w: s3://%s/%s is %d bytes", ErrObjectTooLarge, s.bucket, key, *out.ContentLength)
	}

	batch, err := decodeObject(out.Body, integration.SourceRef{Key: key, Format: ref.Format}, s.maxSize)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Fetched record object",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int("records", len(batch.Records)),
		zap.Int("dropped", len(batch.Dropped)),
	)
	return batch, nil
}

// Ping checks that the bucket is reachable
func (s *S3RecordSource) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Bucket returns the bucket name
func (s *S3RecordSource) Bucket() string {
	return s.bucket
}
