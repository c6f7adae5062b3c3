// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/netSkope/upload-export/internal/csvenc"
	"github.com/netSkope/upload-export/internal/model"
	"github.com/netSkope/upload-export/internal/store"
)

// inFlight tracks rows fetched from the store but not yet encoded.
type inFlight struct {
	cur atomic.Int64
	max atomic.Int64
}

func (f *inFlight) add(n int) {
	c := f.cur.Add(int64(n))
	for {
		m := f.max.Load()
		if c <= m || f.max.CompareAndSwap(m, c) {
			return
		}
	}
}

func (f *inFlight) done(n int) {
	f.cur.Add(-int64(n))
}

func (f *inFlight) peak() int {
	return int(f.max.Load())
}

// readBatches pulls batches from the cursor into out. out is closed only
// after the cursor was drained and closed cleanly, so downstream stages never
// mistake a failed read for the end of the data.
func readBatches(ctx context.Context, c store.Cursor, out chan<- []model.Upload, track *inFlight, logger *zap.Logger) error {
	batches := 0
	for {
		batch, err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		batches++
		track.add(len(batch))

		logger.Debug("Fetched batch",
			zap.Int("batch", batches),
			zap.Int("rows", len(batch)))

		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.Close(); err != nil {
		return err
	}
	close(out)
	return nil
}

// flatten re-emits every row of every batch, in order.
func flatten(ctx context.Context, in <-chan []model.Upload, out chan<- *model.Upload) error {
	for {
		var batch []model.Upload
		var ok bool
		select {
		case batch, ok = <-in:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			close(out)
			return nil
		}

		for i := range batch {
			select {
			case out <- &batch[i]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// encodeRows writes rows through enc until in is closed, then flushes.
func encodeRows(ctx context.Context, in <-chan *model.Upload, enc *csvenc.Encoder, track *inFlight) error {
	for {
		var row *model.Upload
		var ok bool
		select {
		case row, ok = <-in:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			break
		}

		if err := enc.Write(row); err != nil {
			return fmt.Errorf("encode row %s: %w", row.ID, err)
		}
		track.done(1)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("finish csv: %w", err)
	}
	return nil
}
