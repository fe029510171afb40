package mover

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"

	"dtm-go/internal/config"
	"dtm-go/internal/dtm"
)

// S3API is the subset of the S3 client used by S3Mover.
type S3API interface {
	manager.UploadAPIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Mover uploads files to an S3 bucket (or an S3-compatible endpoint).
// Destination paths become object keys under the configured prefix.
type S3Mover struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	limiter  *rate.Limiter
}

// NewS3Mover creates an S3Mover around an existing client.
func NewS3Mover(client S3API, bucket, prefix string) *S3Mover {
	return &S3Mover{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

// NewS3MoverFromConfig builds an S3 client from the default AWS credential
// chain, overridden by static credentials, region and endpoint when set.
func NewS3MoverFromConfig(ctx context.Context, cfg config.MoverConfig) (*S3Mover, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 mover requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return NewS3Mover(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// SetBandwidthLimit caps upload throughput at kbps KiB/s. 0 removes the cap.
func (m *S3Mover) SetBandwidthLimit(kbps int) {
	m.limiter = NewBandwidthLimiter(kbps)
}

func (m *S3Mover) Name() string { return "s3" }

// ValidateDestination checks that the bucket exists and is reachable.
// The directory part is just a key prefix and needs no setup.
func (m *S3Mover) ValidateDestination(ctx context.Context, _ string) error {
	if _, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(m.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", m.bucket, err)
	}
	return nil
}

// Move uploads src to the object key derived from dst.
func (m *S3Mover) Move(ctx context.Context, src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer f.Close()

	var body io.Reader = f
	if m.limiter != nil {
		body = throttle(ctx, f, m.limiter)
	}
	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.Key(dst)),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("uploading to s3://%s/%s: %w", m.bucket, m.Key(dst), err)
	}
	return nil
}

// Open downloads the object stored for dst.
func (m *S3Mover) Open(ctx context.Context, dst string) (io.ReadCloser, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.Key(dst)),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading s3://%s/%s: %w", m.bucket, m.Key(dst), err)
	}
	return out.Body, nil
}

// Key returns the object key for a destination path.
func (m *S3Mover) Key(dst string) string {
	return strings.TrimPrefix(path.Join(m.prefix, filepath.ToSlash(dst)), "/")
}

// Compile-time check that S3Mover implements dtm.Mover interface
var _ dtm.Mover = (*S3Mover)(nil)
