// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package storage streams objects to S3-compatible object storage under
// generated, collision-free keys.
package storage

import (
	"context"
	"errors"
	"io"
)

// Folders objects may be stored under.
const (
	FolderImages    = "images"
	FolderDownloads = "downloads"
)

const defaultContentType = "application/octet-stream"

// ErrUnknownFolder is returned for a folder outside the allowed set.
var ErrUnknownFolder = errors.New("unknown storage folder")

// ObjectStore writes and removes objects in a single bucket. PutObject reads
// body until EOF and returns only after the backend acknowledged the object;
// a failed PutObject leaves no object (or multipart upload) behind.
type ObjectStore interface {
	PutObject(ctx context.Context, key, contentType string, body io.Reader) (int64, error)
	DeleteObject(ctx context.Context, key string) error
}

// Descriptor describes one object to upload. Body may be a live stream.
type Descriptor struct {
	FileName    string
	ContentType string
	Body        io.Reader
	Folder      string
}

// Object is a stored object.
type Object struct {
	Key  string
	URL  string
	Size int64
}

// countingReader counts bytes handed to the backend client.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
