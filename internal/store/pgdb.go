// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/netSkope/upload-export/internal/apperr"
	"github.com/netSkope/upload-export/internal/model"
	"go.uber.org/zap"
)

// exportCursorName is scoped to the cursor's own transaction.
const exportCursorName = "upload_export_cursor"

// PGOptions configures a PostgreSQL store.
type PGOptions struct {
	Host     string // host:port
	User     string
	Password string
	Database string
	SSLMode  string // Default: "disable"
	Table    string
}

// PostgresDSN builds a postgres:// URL for pgx.
func PostgresDSN(host, user, pwd, dbName, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     host,
		Path:     "/" + dbName,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	if user != "" {
		if pwd != "" {
			u.User = url.UserPassword(user, pwd)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

// PGClient implements Store on a pgx connection pool. Exports use a real
// server-side cursor (DECLARE/FETCH).
type PGClient struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

// NewPGClient connects to PostgreSQL using opts.
func NewPGClient(ctx context.Context, opts PGOptions, logger *zap.Logger) (*PGClient, error) {
	if opts.Host == "" {
		return nil, ErrBadHostname
	}
	if _, _, err := net.SplitHostPort(opts.Host); err != nil {
		opts.Host = net.JoinHostPort(opts.Host, strconv.Itoa(5432))
	}
	return NewPGClientFromDSN(ctx, PostgresDSN(opts.Host, opts.User, opts.Password, opts.Database, opts.SSLMode), opts.Table, logger)
}

// NewPGClientFromDSN connects using a ready-made connection string.
func NewPGClientFromDSN(ctx context.Context, dsn, table string, logger *zap.Logger) (*PGClient, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = dbPoolSize
	poolCfg.MaxConnLifetime = dbConnLife

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pc := &PGClient{pool: pool, table: table, logger: logger}
	if err := pc.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pc, nil
}

func (pc *PGClient) Name() string { return DriverPostgres }

func (pc *PGClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout*time.Second)
	defer cancel()
	return pc.pool.Ping(ctx)
}

func (pc *PGClient) Close() error {
	if pc.pool != nil {
		pc.pool.Close()
		pc.pool = nil
	}
	return nil
}

// Migrate creates the uploads table if it does not exist.
func (pc *PGClient) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			remote_key TEXT NOT NULL,
			remote_url TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, pc.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_name ON %[1]s (name)`, pc.table),
	}
	for _, stmt := range stmts {
		if _, err := pc.pool.Exec(ctx, stmt); err != nil {
			return apperr.E(apperr.KindStore, "store.migrate", fmt.Errorf("failed to create schema: %w", err))
		}
	}
	return nil
}

// InsertUpload stores a new record.
func (pc *PGClient) InsertUpload(ctx context.Context, u *model.Upload) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, name, remote_key, remote_url, created_at) VALUES ($1, $2, $3, $4, $5)`, pc.table)
	if _, err := pc.pool.Exec(ctx, query, u.ID, u.Name, u.RemoteKey, u.RemoteURL, u.CreatedAt.UTC()); err != nil {
		return apperr.E(apperr.KindStore, "store.insert", fmt.Errorf("insert failed: %w", err))
	}
	return nil
}

func (pc *PGClient) selectSQL(f Filter) (string, []any) {
	query := fmt.Sprintf(`SELECT id::text, name, remote_key, remote_url, created_at FROM %s`, pc.table)
	if f.SearchQuery == "" {
		return query, nil
	}
	return query + ` WHERE name ILIKE $1 ESCAPE '` + likeEscape + `'`, []any{likePattern(f.SearchQuery)}
}

// ListUploads returns one page of records.
func (pc *PGClient) ListUploads(ctx context.Context, q ListQuery) ([]model.Upload, error) {
	order, err := orderClause(q)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, "store.list", err)
	}
	query, args := pc.selectSQL(q.Filter)
	query += fmt.Sprintf(` ORDER BY %s LIMIT $%d OFFSET $%d`, order, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := pc.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "store.list", fmt.Errorf("query failed: %w", err))
	}
	defer rows.Close()

	result, err := scanUploads(rows, q.Limit)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "store.list", err)
	}
	return result, nil
}

// CountUploads returns the number of records matching f.
func (pc *PGClient) CountUploads(ctx context.Context, f Filter) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(id) FROM %s`, pc.table)
	var args []any
	if f.SearchQuery != "" {
		query += ` WHERE name ILIKE $1 ESCAPE '` + likeEscape + `'`
		args = append(args, likePattern(f.SearchQuery))
	}

	var total int64
	if err := pc.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, apperr.E(apperr.KindStore, "store.count", fmt.Errorf("count failed: %w", err))
	}
	return int(total), nil
}

// OpenCursor declares a server-side cursor inside a read-only snapshot
// transaction. Bound parameters travel separately from the SQL text.
func (pc *PGClient) OpenCursor(ctx context.Context, f Filter, batchSize int) (Cursor, error) {
	if batchSize < 1 {
		return nil, apperr.Validation("store.cursor", "batch size must be positive, got %d", batchSize)
	}

	tx, err := pc.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "store.cursor", fmt.Errorf("failed to start transaction: %w", err))
	}

	query, args := pc.selectSQL(f)
	declare := fmt.Sprintf(`DECLARE %s NO SCROLL CURSOR FOR %s ORDER BY id`, exportCursorName, query)
	if _, err := tx.Exec(ctx, declare, args...); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, apperr.E(apperr.KindStore, "store.cursor", fmt.Errorf("failed to declare cursor: %w", err))
	}

	pc.logger.Debug("Declared export cursor",
		zap.String("table", pc.table),
		zap.Int("batch_size", batchSize))

	return &pgCursor{
		tx:       tx,
		fetchSQL: fmt.Sprintf(`FETCH FORWARD %d FROM %s`, batchSize, exportCursorName),
		batch:    batchSize,
	}, nil
}

type pgCursor struct {
	tx       pgx.Tx
	fetchSQL string
	batch    int
	done     bool
	closed   bool
}

func (c *pgCursor) Next(ctx context.Context) ([]model.Upload, error) {
	if c.closed {
		return nil, apperr.E(apperr.KindStore, "store.cursor.next", errors.New("cursor is closed"))
	}
	if c.done {
		return nil, io.EOF
	}

	rows, err := c.tx.Query(ctx, c.fetchSQL)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "store.cursor.next", fmt.Errorf("fetch failed: %w", err))
	}
	defer rows.Close()

	batch, err := scanUploads(rows, c.batch)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "store.cursor.next", err)
	}
	if len(batch) < c.batch {
		c.done = true
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Close closes the cursor and ends its transaction. It is safe to call more
// than once.
func (c *pgCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if _, err := c.tx.Exec(ctx, "CLOSE "+exportCursorName); err != nil {
		_ = c.tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrTxClosed) {
			return nil
		}
		return apperr.E(apperr.KindStore, "store.cursor.close", fmt.Errorf("failed to close cursor: %w", err))
	}
	if err := c.tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return apperr.E(apperr.KindStore, "store.cursor.close", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}
