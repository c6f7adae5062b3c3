// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/netSkope/upload-export/internal/apperr"
)

// Uploader stores objects under generated keys and resolves their public URLs.
type Uploader struct {
	store  ObjectStore
	base   *url.URL
	logger *zap.Logger
	newID  func() string
}

// NewUploader creates an uploader publishing objects below publicURL.
func NewUploader(store ObjectStore, publicURL string, logger *zap.Logger) (*Uploader, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	base, err := url.Parse(publicURL)
	if err != nil {
		return nil, fmt.Errorf("invalid public URL: %w", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("public URL must be absolute, got %q", publicURL)
	}
	// Keep the base path when resolving keys against it.
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Uploader{
		store:  store,
		base:   base,
		logger: logger,
		newID:  func() string { return uuid.NewString() },
	}, nil
}

// URL returns the public URL of key.
func (u *Uploader) URL(key string) string {
	return u.base.ResolveReference(&url.URL{Path: key}).String()
}

// Upload streams d.Body to a new object and returns it once the backend
// acknowledged the transfer.
func (u *Uploader) Upload(ctx context.Context, d Descriptor) (Object, error) {
	const op = "storage.upload"

	if d.Body == nil {
		return Object{}, apperr.Validation(op, "body is required")
	}
	key, err := ObjectKey(d.Folder, u.newID(), d.FileName)
	if err != nil {
		return Object{}, apperr.E(apperr.KindValidation, op, err)
	}
	contentType := d.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	u.logger.Info("Uploading object",
		zap.String("s3_key", key),
		zap.String("content_type", contentType))
	start := time.Now()

	size, err := u.store.PutObject(ctx, key, contentType, d.Body)
	if err != nil {
		u.logger.Error("Upload failed",
			zap.String("s3_key", key),
			zap.Int64("bytes", size),
			zap.Error(err))
		return Object{}, apperr.E(apperr.KindUpload, op, fmt.Errorf("failed to upload %s: %w", key, err))
	}

	obj := Object{Key: key, URL: u.URL(key), Size: size}
	u.logger.Info("Object uploaded",
		zap.String("s3_key", key),
		zap.Int64("size", size),
		zap.Duration("duration", time.Since(start)))
	return obj, nil
}

// Discard removes an object written by Upload.
func (u *Uploader) Discard(ctx context.Context, key string) error {
	if err := u.store.DeleteObject(ctx, key); err != nil {
		return apperr.E(apperr.KindUpload, "storage.discard", fmt.Errorf("failed to delete %s: %w", key, err))
	}
	u.logger.Info("Object discarded", zap.String("s3_key", key))
	return nil
}
