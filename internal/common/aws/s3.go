package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"case-portal/internal/common/config"
	"case-portal/internal/common/metrics"
	"case-portal/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

var _ store.BlobStore = (*S3BlobStore)(nil)

// S3BlobStore keeps uploaded documents and profile photos in one bucket of an
// S3-compatible service. Download URLs are presigned GETs.
type S3BlobStore struct {
	client            *s3.Client
	presignClient     *s3.PresignClient
	bucket            string
	presignExpiration time.Duration
	logger            *zap.Logger
}

type S3Option func(*S3BlobStore)

func WithS3Logger(logger *zap.Logger) S3Option {
	return func(s *S3BlobStore) {
		s.logger = logger
	}
}

func WithPresignExpiration(d time.Duration) S3Option {
	return func(s *S3BlobStore) {
		s.presignExpiration = d
	}
}

func NewS3BlobStore(ctx context.Context, cfg config.S3Config, opts ...S3Option) (*S3BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	s := &S3BlobStore{
		client:            client,
		presignClient:     s3.NewPresignClient(client),
		bucket:            cfg.Bucket,
		presignExpiration: time.Duration(cfg.PresignExpiration) * time.Millisecond,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.presignExpiration <= 0 {
		s.presignExpiration = 7 * 24 * time.Hour
	}
	return s, nil
}

// Upload streams body to key. The SDK needs a seekable body to sign the
// payload, so other readers are buffered first.
func (s *S3BlobStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress store.ProgressFunc) error {
	if key == "" {
		return errors.New("storage key is required")
	}

	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("failed to read upload body: %w", err)
		}
		seeker = bytes.NewReader(data)
		size = int64(len(data))
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   &progressSeeker{ReadSeeker: seeker, total: size, progress: progress},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.logger.Error("failed to upload object", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	metrics.BlobUploadBytes.Add(float64(size))
	s.logger.Debug("object uploaded", zap.String("key", key), zap.Int64("size", size))
	return nil
}

func (s *S3BlobStore) DownloadURL(ctx context.Context, key string) (string, error) {
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignExpiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign download of %s: %w", key, err)
	}
	return req.URL, nil
}

// progressSeeker reports progress per read and restarts the count when the
// SDK rewinds the body for signing or a retry.
type progressSeeker struct {
	io.ReadSeeker
	sent     int64
	total    int64
	progress store.ProgressFunc
}

func (p *progressSeeker) Read(b []byte) (int, error) {
	n, err := p.ReadSeeker.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.progress != nil {
			p.progress(p.sent, p.total)
		}
	}
	return n, err
}

func (p *progressSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.ReadSeeker.Seek(offset, whence)
	if err == nil {
		p.sent = pos
	}
	return pos, err
}
