// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/netSkope/upload-export/internal/apperr"
	"github.com/netSkope/upload-export/internal/csvenc"
	"github.com/netSkope/upload-export/internal/model"
	"github.com/netSkope/upload-export/internal/storage"
	"github.com/netSkope/upload-export/internal/store"
)

// Default values.
const (
	DefaultBatchSize = 1000
	DefaultTimeout   = 30 * time.Minute

	discardTimeout = 30 * time.Second

	// reportTimeLayout is ISO 8601 with the colons replaced, so the name
	// survives key sanitization unchanged.
	reportTimeLayout = "2006-01-02T15-04-05.000Z"
)

// errSinkStopped unblocks the encoder when the sink returns before EOF.
var errSinkStopped = errors.New("sink stopped reading before end of stream")

// Options configures an Exporter.
type Options struct {
	BatchSize int           // Default: 1000
	Timeout   time.Duration // Default: 30m; negative disables
	FileName  string        // Default: ReportFileName at export start
	Folder    string        // Default: downloads
	CSV       csvenc.Options
}

// Exporter streams filtered upload records as CSV into object storage.
type Exporter struct {
	source  Source
	sink    Sink
	columns []csvenc.Column
	opts    Options
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// ReportFileName names a report exported at t, e.g.
// uploads-2024-05-01T12-00-00.000Z.csv.
func ReportFileName(t time.Time) string {
	return "uploads-" + t.UTC().Format(reportTimeLayout) + ".csv"
}

// New creates an Exporter. metrics may be nil.
func New(source Source, sink Sink, opts Options, metrics *Metrics, logger *zap.Logger) (*Exporter, error) {
	if source == nil || sink == nil {
		return nil, errors.New("source and sink are required")
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Folder == "" {
		opts.Folder = storage.FolderDownloads
	}
	if _, err := storage.ObjectKey(opts.Folder, "check", opts.FileName); err != nil {
		return nil, err
	}

	columns := csvenc.UploadColumns()
	// Fail on a bad CSV dialect now rather than mid-export.
	if _, err := csvenc.NewEncoder(io.Discard, columns, opts.CSV); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Exporter{
		source:  source,
		sink:    sink,
		columns: columns,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// ExportUploads exports every upload matching req as a CSV document and
// returns the public URL of the stored file. Rows are read, encoded and
// uploaded concurrently; at most a few batches are held in memory.
//
// On failure no object is left in storage and the cursor is released.
func (e *Exporter) ExportUploads(ctx context.Context, req Request) (res Result, err error) {
	const op = "exporter.export"

	start := time.Now()
	res.State = StateValidating
	defer func() {
		res.Duration = time.Since(start)
		if err != nil {
			res.State = StateFailed
			e.logger.Error("Export failed",
				zap.String("search", req.SearchQuery),
				zap.String("kind", apperr.KindOf(err).String()),
				zap.Int("rows", res.Rows),
				zap.Duration("duration", res.Duration),
				zap.Error(err))
		} else {
			res.State = StateCompleted
			e.logger.Info("Export completed",
				zap.String("s3_key", res.Key),
				zap.String("url", res.ReportURL),
				zap.Int("rows", res.Rows),
				zap.Int64("bytes", res.Bytes),
				zap.Int("max_in_flight_rows", res.MaxInFlightRows),
				zap.Duration("duration", res.Duration))
		}
		e.metrics.observe(res, err)
	}()

	req, err = ValidateRequest(req)
	if err != nil {
		return res, err
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	cursor, err := e.source.OpenCursor(ctx, store.Filter{SearchQuery: req.SearchQuery}, e.opts.BatchSize)
	if err != nil {
		return res, apperr.E(apperr.KindStore, op, err)
	}
	defer cursor.Close()

	res.State = StateStreaming
	e.logger.Info("Export started",
		zap.String("search", req.SearchQuery),
		zap.Int("batch_size", e.opts.BatchSize))

	obj, enc, track, err := e.stream(ctx, cursor)
	if enc != nil {
		res.Rows = enc.Rows()
		res.Bytes = enc.Bytes()
	}
	res.MaxInFlightRows = track.peak()

	if err != nil {
		if obj.Key != "" {
			e.discard(ctx, obj.Key)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("export exceeded %s: %w", e.opts.Timeout, err)
		}
		return res, apperr.E(apperr.KindUpload, op, err)
	}

	res.ReportURL = obj.URL
	res.Key = obj.Key
	return res, nil
}

// stream runs the stages:
//
//	cursor -> batches -> rows -> CSV encoder -> pipe -> sink
//
// Channels are unbuffered and the pipe is synchronous, so every stage waits
// for the one after it.
func (e *Exporter) stream(ctx context.Context, cursor store.Cursor) (storage.Object, *csvenc.Encoder, *inFlight, error) {
	track := &inFlight{}
	pr, pw := io.Pipe()

	enc, err := csvenc.NewEncoder(pw, e.columns, e.opts.CSV)
	if err != nil {
		return storage.Object{}, nil, track, err
	}

	fileName := e.opts.FileName
	if fileName == "" {
		fileName = ReportFileName(e.now())
	}

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []model.Upload)
	rows := make(chan *model.Upload)

	g.Go(func() error {
		return readBatches(gctx, cursor, batches, track, e.logger)
	})
	g.Go(func() error {
		return flatten(gctx, batches, rows)
	})
	g.Go(func() error {
		err := encodeRows(gctx, rows, enc, track)
		// nil closes with EOF; the sink then completes the object.
		pw.CloseWithError(err)
		return err
	})

	var obj storage.Object
	g.Go(func() error {
		o, err := e.sink.Upload(gctx, storage.Descriptor{
			FileName:    fileName,
			ContentType: "text/csv",
			Body:        pr,
			Folder:      e.opts.Folder,
		})
		obj = o
		if err != nil {
			pr.CloseWithError(err)
			return err
		}
		// No-op once the encoder finished; otherwise fails its next write.
		pr.CloseWithError(errSinkStopped)
		return nil
	})

	err = g.Wait()
	return obj, enc, track, err
}

func (e *Exporter) discard(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	if err := e.sink.Discard(ctx, key); err != nil {
		e.logger.Error("Failed to discard object of failed export",
			zap.String("s3_key", key),
			zap.Error(err))
	}
}
