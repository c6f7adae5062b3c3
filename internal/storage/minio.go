// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioOptions configures a MinIO backend.
type MinioOptions struct {
	Endpoint        string // host:port, optionally with http:// or https://
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	PartSizeMB      int
}

// MinioStore streams objects to MinIO. PutObject is called with an unknown
// size, so the client uploads multipart as data arrives from the reader.
type MinioStore struct {
	client   *minio.Client
	bucket   string
	region   string
	partSize uint64
	logger   *zap.Logger
}

// NewMinioStore creates a MinIO backend.
func NewMinioStore(opts MinioOptions, logger *zap.Logger) (*MinioStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	endpoint, secure := opts.Endpoint, opts.UseSSL
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "http://"), false
	}
	endpoint = strings.TrimSuffix(endpoint, "/")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	partSize := uint64(opts.PartSizeMB) * 1024 * 1024
	if partSize < minPartSize {
		partSize = minPartSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MinioStore{
		client:   client,
		bucket:   opts.Bucket,
		region:   opts.Region,
		partSize: partSize,
		logger:   logger,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
	}
	m.logger.Info("Created bucket", zap.String("bucket", m.bucket))
	return nil
}

// PutObject uploads body until EOF.
func (m *MinioStore) PutObject(ctx context.Context, key, contentType string, body io.Reader) (int64, error) {
	info, err := m.client.PutObject(ctx, m.bucket, key, body, -1, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    m.partSize,
	})
	if err != nil {
		return info.Size, fmt.Errorf("minio upload: %w", err)
	}

	m.logger.Debug("MinIO upload complete",
		zap.String("s3_key", key),
		zap.String("etag", info.ETag),
		zap.Int64("bytes", info.Size))
	return info.Size, nil
}

// DeleteObject removes key from the bucket.
func (m *MinioStore) DeleteObject(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio delete: %w", err)
	}
	return nil
}
