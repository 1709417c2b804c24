package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds bucket settings. Endpoint is set for S3-compatible services.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string // defaults to the virtual-hosted bucket URL
}

// ObjectPutter is the part of the S3 client uploads use.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores uploads in a bucket.
type S3 struct {
	client    ObjectPutter
	bucket    string
	publicURL string
	now       func() time.Time
	logger    *slog.Logger
}

// NewS3 creates an S3 media store with static credentials.
func NewS3(cfg S3Config, logger *slog.Logger) *S3 {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return NewS3WithClient(s3.New(opts), cfg, logger)
}

// NewS3WithClient creates an S3 media store over an existing client.
func NewS3WithClient(client ObjectPutter, cfg S3Config, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	publicURL := cfg.PublicURL
	if publicURL == "" {
		switch {
		case cfg.Endpoint != "":
			publicURL = joinURL(cfg.Endpoint, cfg.Bucket)
		default:
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: publicURL,
		now:       time.Now,
		logger:    logger.With("component", "media", "backend", "s3"),
	}
}

// Put uploads the object. The body is buffered so the request can be signed.
func (s *S3) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	key, err := Key(s.now(), contentType)
	if err != nil {
		return "", err
	}
	data, err := readLimited(r)
	if err != nil {
		return "", err
	}
	if err := checkContent(contentType, data); err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	s.logger.Info("stored upload", "name", name, "bucket", s.bucket, "key", key, "bytes", len(data))
	return joinURL(s.publicURL, key), nil
}
