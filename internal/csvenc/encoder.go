// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package csvenc serializes upload rows into CSV text one row at a time.
package csvenc

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/netSkope/upload-export/internal/model"
)

// TimeLayout is the textual form of timestamp columns. Values are always
// converted to UTC first.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Column maps a header label to a field of the row.
type Column struct {
	Key    string
	Header string
	Value  func(u *model.Upload) string
}

// UploadColumns is the fixed column order of the uploads report.
func UploadColumns() []Column {
	return []Column{
		{Key: "id", Header: "ID", Value: func(u *model.Upload) string { return u.ID }},
		{Key: "name", Header: "Name", Value: func(u *model.Upload) string { return u.Name }},
		{Key: "remoteUrl", Header: "URL", Value: func(u *model.Upload) string { return u.RemoteURL }},
		{Key: "createdAt", Header: "Uploaded at", Value: func(u *model.Upload) string { return FormatTime(u.CreatedAt) }},
	}
}

// FormatTime formats t with TimeLayout. The zero time yields an empty field.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// Options controls the dialect of the produced CSV.
type Options struct {
	Delimiter rune // Default: ','
	UseCRLF   bool
	NoHeader  bool
}

// Encoder is a stateful streaming CSV serializer. It is not safe for
// concurrent use.
type Encoder struct {
	out           *countingWriter
	w             *csv.Writer
	columns       []Column
	header        bool
	headerWritten bool
	record        []string
	rows          int
	closed        bool
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer, columns []Column, opts Options) (*Encoder, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("at least one column is required")
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	if !validDelimiter(opts.Delimiter) {
		return nil, fmt.Errorf("invalid CSV delimiter %q", opts.Delimiter)
	}

	out := &countingWriter{w: w}
	cw := csv.NewWriter(out)
	cw.Comma = opts.Delimiter
	cw.UseCRLF = opts.UseCRLF

	return &Encoder{
		out:     out,
		w:       cw,
		columns: columns,
		header:  !opts.NoHeader,
		record:  make([]string, len(columns)),
	}, nil
}

// Write encodes one row. The header line is emitted before the first row.
func (e *Encoder) Write(u *model.Upload) error {
	if e.closed {
		return fmt.Errorf("write to closed encoder")
	}
	if err := e.writeHeader(); err != nil {
		return err
	}

	for i, col := range e.columns {
		e.record[i] = col.Value(u)
	}
	if err := e.w.Write(e.record); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	e.rows++
	return nil
}

// Close emits the header if no row was written and flushes buffered output.
// It does not close the underlying writer.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.writeHeader(); err != nil {
		return err
	}
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// Rows returns the number of data rows written so far.
func (e *Encoder) Rows() int {
	return e.rows
}

// Bytes returns the number of bytes handed to the underlying writer.
func (e *Encoder) Bytes() int64 {
	return e.out.n
}

func (e *Encoder) writeHeader() error {
	if !e.header || e.headerWritten {
		return nil
	}
	e.headerWritten = true

	header := make([]string, len(e.columns))
	for i, col := range e.columns {
		header[i] = col.Header
	}
	if err := e.w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	return nil
}

func validDelimiter(r rune) bool {
	return r != '"' && r != '\r' && r != '\n' && utf8.ValidRune(r) && r != utf8.RuneError
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
