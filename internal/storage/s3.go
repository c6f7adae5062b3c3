// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/netSkope/upload-export/internal/util"
)

const (
	// Multipart part size floor enforced by S3: 5MB
	minPartSize = 5 * 1024 * 1024
	// Default concurrent part uploads
	defaultConcurrency = 3
)

// S3Options configures an S3 or S3-compatible (R2, LocalStack) backend.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint URL; empty for AWS
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PartSizeMB      int
	Concurrency     int
}

// S3Store streams objects to S3 with the multipart upload manager. Bodies of
// unknown length are split into parts as they arrive; a failed upload is
// aborted so no parts are left behind.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	logger   *zap.Logger
}

// NewS3Store creates an S3 backend using the SDK credential chain, with
// explicit or vault credentials taking precedence.
func NewS3Store(ctx context.Context, opts S3Options, logger *zap.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := util.LoadAWSConfig(ctx, opts.Region, opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})
	if logger != nil && opts.Endpoint != "" {
		logger.Info("Using custom S3 endpoint", zap.String("endpoint", opts.Endpoint))
	}

	return NewS3StoreFromClient(client, opts.Bucket, opts.PartSizeMB, opts.Concurrency, logger), nil
}

// NewS3StoreFromClient wraps an existing client.
func NewS3StoreFromClient(client *s3.Client, bucket string, partSizeMB, concurrency int, logger *zap.Logger) *S3Store {
	partSize := int64(partSizeMB) * 1024 * 1024
	if partSize < minPartSize {
		partSize = minPartSize
	}
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = concurrency
		u.LeavePartsOnError = false
	})

	return &S3Store{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		logger:   logger,
	}
}

// PutObject uploads body until EOF.
func (s *S3Store) PutObject(ctx context.Context, key, contentType string, body io.Reader) (int64, error) {
	cr := &countingReader{r: body}
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        cr,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return cr.n, fmt.Errorf("s3 upload: %w", err)
	}

	s.logger.Debug("S3 upload complete",
		zap.String("s3_key", key),
		zap.String("location", out.Location),
		zap.Int64("bytes", cr.n))
	return cr.n, nil
}

// DeleteObject removes key from the bucket.
func (s *S3Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete: %w", err)
	}
	return nil
}
