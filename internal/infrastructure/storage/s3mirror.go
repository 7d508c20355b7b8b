package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"NewsDesk/internal/config"
	"NewsDesk/internal/ports"
)

// ObjectPutter is the subset of the S3 client used by the mirror.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror copies model backups into an S3-compatible bucket.
type S3Mirror struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

var _ ports.ArtifactMirror = (*S3Mirror)(nil)

// NewS3Client builds a client for AWS or any S3-compatible endpoint.
func NewS3Client(ctx context.Context, cfg config.BackupConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Mirror wraps client; an empty bucket is rejected.
func NewS3Mirror(client ObjectPutter, bucket, prefix string, logger *slog.Logger) (*S3Mirror, error) {
	if client == nil {
		return nil, errors.New("s3 mirror: nil client")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("s3 mirror: bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Mirror{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With("component", "s3_mirror", "bucket", bucket),
	}, nil
}

// Key joins the configured prefix with name.
func (m *S3Mirror) Key(name string) string {
	name = strings.TrimLeft(name, "/")
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Upload buffers body and puts it under the prefixed key.
func (m *S3Mirror) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	fullKey := m.Key(key)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(fullKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", fullKey, err)
	}
	m.logger.Info("artifact mirrored", "key", fullKey, "bytes", len(data))
	return nil
}
