// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/netSkope/upload-export/internal/apperr"
	"github.com/netSkope/upload-export/internal/model"
	"go.uber.org/zap"
)

const (
	dbPoolSize = 10
	dbConnLife = 30 * time.Minute
	dbTimeout  = 5
)

var ErrBadHostname = fmt.Errorf("hostname is required")

// dialect captures what differs between database/sql backends.
type dialect struct {
	driver    string
	schema    []string
	txOptions *sql.TxOptions
	// nameMatch compares the lower-cased name against a lower-cased LIKE
	// pattern.
	nameMatch string
}

var dialects = map[string]dialect{
	DriverMySQL: {
		driver: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(36) NOT NULL PRIMARY KEY,
				name VARCHAR(512) NOT NULL,
				remote_key VARCHAR(1024) NOT NULL,
				remote_url VARCHAR(2048) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				INDEX idx_%[1]s_name (name)
			) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin`,
		},
		// A consistent snapshot keeps concurrent inserts from leaking into a
		// running export.
		txOptions: &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
		// utf8mb4_bin keeps LIKE accent-sensitive; LOWER does the case folding.
		nameMatch: "LOWER(name) LIKE ? ESCAPE '" + likeEscape + "'",
	},
	DriverSQLite: {
		driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS %s (
				id TEXT NOT NULL PRIMARY KEY,
				name TEXT NOT NULL,
				remote_key TEXT NOT NULL,
				remote_url TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_%[1]s_name ON %[1]s (name)`,
		},
		txOptions: &sql.TxOptions{},
		nameMatch: sqliteLower + "(name) LIKE ? ESCAPE '" + likeEscape + "'",
	},
}

// SQLOptions configures a database/sql backed store.
type SQLOptions struct {
	Driver   string // DriverMySQL or DriverSQLite
	Host     string // host:port, MySQL only
	User     string
	Password string
	Database string // database name (MySQL) or file path / DSN (SQLite)
	SSLMode  string // PostgreSQL only
	Table    string
	Timeout  int // seconds, for Ping and short statements
}

// SQLClient implements Store on top of database/sql.
type SQLClient struct {
	db      *sql.DB
	dialect dialect
	table   string
	timeout time.Duration
	name    string
	logger  *zap.Logger
}

func (sc *SQLClient) Name() string {
	if sc == nil {
		return ""
	}
	return sc.name
}

func (sc *SQLClient) context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, sc.timeout)
}

func (sc *SQLClient) Close() error {
	if sc.db != nil {
		err := sc.db.Close()
		sc.db = nil
		return err
	}
	return nil
}

func (sc *SQLClient) GetDB() *sql.DB {
	return sc.db
}

func (sc *SQLClient) Ping(ctx context.Context) error {
	ctx, cancel := sc.context(ctx)
	defer cancel()
	return sc.db.PingContext(ctx)
}

// MySQLDSN builds a go-sql-driver DSN. Timestamps are parsed into time.Time
// in UTC.
func MySQLDSN(host, user, pwd, dbName string) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.User = user
	cfg.Passwd = pwd
	cfg.DBName = dbName
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// SQLiteDSN stores timestamps in a sortable text form that round-trips.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_time_format=sqlite"
}

// NewSQLClient opens and pings a MySQL or SQLite store.
func NewSQLClient(opts SQLOptions, logger *zap.Logger) (*SQLClient, error) {
	d, ok := dialects[opts.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s (must be mysql or sqlite)", opts.Driver)
	}

	var dsn string
	switch opts.Driver {
	case DriverMySQL:
		if opts.Host == "" {
			return nil, ErrBadHostname
		}
		dsn = MySQLDSN(opts.Host, opts.User, opts.Password, opts.Database)
	case DriverSQLite:
		if opts.Database == "" {
			return nil, fmt.Errorf("sqlite database path is required")
		}
		dsn = SQLiteDSN(opts.Database)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(dbConnLife)
	db.SetMaxOpenConns(dbPoolSize)
	db.SetMaxIdleConns(dbPoolSize)
	if opts.Driver == DriverSQLite {
		// One writer at a time; avoids SQLITE_BUSY between the cursor
		// transaction and inserts.
		db.SetMaxOpenConns(1)
	}

	sc, err := NewSQLStore(db, opts.Driver, opts.Table, opts.Timeout, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err = sc.Ping(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sc, nil
}

// NewSQLStore wraps an already opened *sql.DB.
func NewSQLStore(db *sql.DB, driver, table string, timeout int, logger *zap.Logger) (*SQLClient, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s (must be mysql or sqlite)", driver)
	}
	if table == "" {
		table = DefaultTable
	}
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	if timeout < 1 {
		timeout = dbTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SQLClient{
		db:      db,
		dialect: d,
		table:   table,
		timeout: time.Duration(timeout) * time.Second,
		name:    driver,
		logger:  logger,
	}, nil
}

// Migrate creates the uploads table if it does not exist.
func (sc *SQLClient) Migrate(ctx context.Context) error {
	for _, stmt := range sc.dialect.schema {
		if _, err := sc.db.ExecContext(ctx, fmt.Sprintf(stmt, sc.table)); err != nil {
			return apperr.E(apperr.KindStore, "store.migrate", fmt.Errorf("failed to create schema: %w", err))
		}
	}
	return nil
}

// InsertUpload stores a new record.
func (sc *SQLClient) InsertUpload(ctx context.Context, u *model.Upload) error {
	ctx, cancel := sc.context(ctx)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (id, name, remote_key, remote_url, created_at) VALUES (?, ?, ?, ?, ?)`, sc.table)
	if _, err := sc.db.ExecContext(ctx, query, u.ID, u.Name, u.RemoteKey, u.RemoteURL, u.CreatedAt.UTC()); err != nil {
		return apperr.E(apperr.KindStore, "store.insert", fmt.Errorf("insert failed: %w", err))
	}
	return nil
}

// ListUploads returns one page of records.
func (sc *SQLClient) ListUploads(ctx context.Context, q ListQuery) ([]model.Upload, error) {
	order, err := orderClause(q)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, "store.list", err)
	}
	where, args := sc.where(q.Filter)

	query := fmt.Sprintf(`SELECT id, name, remote_key, remote_url, created_at FROM %s%s ORDER BY %s LIMIT ? OFFSET ?`,
		sc.table, where, order)
	args = append(args, q.Limit, q.Offset)

	rows, err := sc.db.QueryContext(ctx, query, args...)
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
func (sc *SQLClient) CountUploads(ctx context.Context, f Filter) (int, error) {
	where, args := sc.where(f)
	query := fmt.Sprintf(`SELECT COUNT(id) FROM %s%s`, sc.table, where)

	var total int
	if err := sc.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, apperr.E(apperr.KindStore, "store.count", fmt.Errorf("count failed: %w", err))
	}
	return total, nil
}

func (sc *SQLClient) where(f Filter) (string, []any) {
	if f.SearchQuery == "" {
		return "", nil
	}
	return " WHERE " + sc.dialect.nameMatch, []any{likePattern(f.SearchQuery)}
}

// OpenCursor starts a snapshot transaction and returns a keyset cursor over
// the matching records ordered by id. Each Next is one round-trip fetching
// at most batchSize rows.
func (sc *SQLClient) OpenCursor(ctx context.Context, f Filter, batchSize int) (Cursor, error) {
	if batchSize < 1 {
		return nil, apperr.Validation("store.cursor", "batch size must be positive, got %d", batchSize)
	}

	tx, err := sc.db.BeginTx(ctx, sc.dialect.txOptions)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "store.cursor", fmt.Errorf("failed to start transaction: %w", err))
	}

	var conds []string
	var args []any
	if f.SearchQuery != "" {
		conds = append(conds, sc.dialect.nameMatch)
		args = append(args, likePattern(f.SearchQuery))
	}

	base := fmt.Sprintf(`SELECT id, name, remote_key, remote_url, created_at FROM %s`, sc.table)
	first := base + whereClause(conds) + ` ORDER BY id LIMIT ?`
	next := base + whereClause(append(conds[:len(conds):len(conds)], "id > ?")) + ` ORDER BY id LIMIT ?`

	sc.logger.Debug("Opened export cursor",
		zap.String("store", sc.name),
		zap.String("table", sc.table),
		zap.Int("batch_size", batchSize),
		zap.String("query", next))

	return &sqlCursor{
		tx:        tx,
		firstSQL:  first,
		nextSQL:   next,
		args:      args,
		batchSize: batchSize,
	}, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// sqlCursor paginates by primary key inside one transaction.
type sqlCursor struct {
	tx        *sql.Tx
	firstSQL  string
	nextSQL   string
	args      []any
	batchSize int
	lastID    string
	started   bool
	done      bool
	closed    bool
}

func (c *sqlCursor) Next(ctx context.Context) ([]model.Upload, error) {
	if c.closed {
		return nil, apperr.E(apperr.KindStore, "store.cursor.next", errors.New("cursor is closed"))
	}
	if c.done {
		return nil, io.EOF
	}

	query := c.firstSQL
	args := append([]any{}, c.args...)
	if c.started {
		query = c.nextSQL
		args = append(args, c.lastID)
	}
	args = append(args, c.batchSize)
	c.started = true

	rows, err := c.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "store.cursor.next", fmt.Errorf("query failed: %w", err))
	}
	defer rows.Close()

	batch, err := scanUploads(rows, c.batchSize)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "store.cursor.next", err)
	}

	if len(batch) < c.batchSize {
		c.done = true
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	c.lastID = batch[len(batch)-1].ID
	return batch, nil
}

// Close ends the snapshot transaction. It is safe to call more than once.
func (c *sqlCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	// Read-only, but committing releases the snapshot and locks.
	if err := c.tx.Commit(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		_ = c.tx.Rollback()
		return apperr.E(apperr.KindStore, "store.cursor.close", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanUploads(rows rowScanner, capHint int) ([]model.Upload, error) {
	if capHint < 0 || capHint > 10000 {
		capHint = 0
	}
	result := make([]model.Upload, 0, capHint)
	for rows.Next() {
		var u model.Upload
		var createdAt dbTime
		if err := rows.Scan(&u.ID, &u.Name, &u.RemoteKey, &u.RemoteURL, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		u.CreatedAt = createdAt.Time
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}

// dbTime scans timestamps from drivers that return either time.Time or text.
type dbTime struct {
	time.Time
}

var dbTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	case int64:
		t.Time = time.Unix(v, 0).UTC()
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
