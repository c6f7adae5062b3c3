// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"context"
	"time"

	"github.com/netSkope/upload-export/internal/storage"
	"github.com/netSkope/upload-export/internal/store"
)

// MaxSearchQueryLen is the longest accepted search query, in characters.
const MaxSearchQueryLen = store.MaxSearchQueryLen

// Request selects the records to export. An empty SearchQuery exports
// every record.
type Request struct {
	SearchQuery string
}

// State is the lifecycle of one export.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Result describes a finished export.
type Result struct {
	ReportURL string
	Key       string
	Rows      int
	Bytes     int64

	// MaxInFlightRows is the largest number of rows fetched from the store
	// but not yet encoded at any one time.
	MaxInFlightRows int

	State    State
	Duration time.Duration
}

// Source opens cursors over upload records. store.Store satisfies it.
type Source interface {
	OpenCursor(ctx context.Context, f store.Filter, batchSize int) (store.Cursor, error)
}

// Sink stores the CSV stream. *storage.Uploader satisfies it.
type Sink interface {
	Upload(ctx context.Context, d storage.Descriptor) (storage.Object, error)
	Discard(ctx context.Context, key string) error
}

// ValidateRequest normalizes req and rejects unusable search queries.
func ValidateRequest(req Request) (Request, error) {
	f, err := store.NewFilter(req.SearchQuery)
	if err != nil {
		return Request{}, err
	}
	return Request{SearchQuery: f.SearchQuery}, nil
}
