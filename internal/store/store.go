// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/netSkope/upload-export/internal/apperr"
	"github.com/netSkope/upload-export/internal/model"
)

const (
	// DefaultTable is the table holding upload records.
	DefaultTable = "uploads"

	// likeEscape is the escape character used in LIKE/ILIKE patterns. It is
	// the same across MySQL, SQLite and PostgreSQL, unlike backslash.
	likeEscape = "!"

	closeTimeout = 10 * time.Second

	// MaxSearchQueryLen is the longest accepted search query, in characters.
	MaxSearchQueryLen = 256
)

// Supported driver names.
const (
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Filter selects upload records. An empty SearchQuery selects every record.
type Filter struct {
	SearchQuery string
}

// NewFilter trims q and rejects search queries that cannot be matched
// meaningfully: invalid UTF-8, NUL characters, or over MaxSearchQueryLen.
func NewFilter(q string) (Filter, error) {
	const op = "store.filter"

	q = strings.TrimSpace(q)
	if !utf8.ValidString(q) {
		return Filter{}, apperr.Validation(op, "search query is not valid UTF-8")
	}
	if strings.ContainsRune(q, 0) {
		return Filter{}, apperr.Validation(op, "search query contains a NUL character")
	}
	if n := utf8.RuneCountInString(q); n > MaxSearchQueryLen {
		return Filter{}, apperr.Validation(op, "search query is %d characters, maximum is %d", n, MaxSearchQueryLen)
	}
	return Filter{SearchQuery: q}, nil
}

// Sort orders for ListQuery.
const (
	SortByCreatedAt = "createdAt"
	SortAsc         = "asc"
	SortDesc        = "desc"
)

// ListQuery is a page of upload records.
type ListQuery struct {
	Filter
	SortBy        string // "" or SortByCreatedAt
	SortDirection string // SortAsc or SortDesc
	Offset        int
	Limit         int
}

// Cursor yields upload records in batches. Next returns io.EOF once the
// result set is exhausted. A Cursor is not restartable and must be closed.
type Cursor interface {
	Next(ctx context.Context) ([]model.Upload, error)
	Close() error
}

// Store is the record store backing uploads and exports.
type Store interface {
	Name() string
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	InsertUpload(ctx context.Context, u *model.Upload) error
	ListUploads(ctx context.Context, q ListQuery) ([]model.Upload, error)
	CountUploads(ctx context.Context, f Filter) (int, error)
	OpenCursor(ctx context.Context, f Filter, batchSize int) (Cursor, error)
	Close() error
}

// ValidateTableName rejects anything that is not a plain SQL identifier.
// The table name is the only non-constant text placed into queries.
func ValidateTableName(name string) error {
	if !tableNameRE.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// likePattern turns a search query into a case-insensitive substring
// pattern with LIKE wildcards escaped.
func likePattern(q string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return "%" + strings.ToLower(r.Replace(q)) + "%"
}

// orderClause maps a ListQuery sort to a constant ORDER BY clause.
func orderClause(q ListQuery) (string, error) {
	switch q.SortBy {
	case "":
		return "id DESC", nil
	case SortByCreatedAt:
		switch q.SortDirection {
		case SortAsc:
			return "created_at ASC, id ASC", nil
		case SortDesc:
			return "created_at DESC, id DESC", nil
		case "":
			// A sort field without a direction keeps the default order.
			return "id DESC", nil
		}
		return "", fmt.Errorf("unsupported sort direction %q", q.SortDirection)
	}
	return "", fmt.Errorf("unsupported sort field %q", q.SortBy)
}
