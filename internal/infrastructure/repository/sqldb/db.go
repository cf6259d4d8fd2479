package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// DB is a database handle that knows which placeholder dialect its driver speaks.
type DB struct {
	sql    *sql.DB
	driver string
}

// OpenDB opens either an embedded SQLite file or a Postgres DSN.
func OpenDB(driver, dsn string) (*DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case DriverSQLite, "sqlite3", "":
		return openSQLite(dsn)
	case DriverPostgres, "postgres", "postgresql":
		return openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func openSQLite(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	// Writers are serialized by SQLite anyway; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &DB{sql: db, driver: DriverSQLite}, nil
}

func openPostgres(dsn string) (*DB, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &DB{sql: db, driver: DriverPostgres}, nil
}

// Wrap adapts an existing handle, e.g. sqlmock in tests.
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{sql: db, driver: driver}
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) PingContext(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversation_messages (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	role TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at_ns BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_messages_partition
	ON conversation_messages(owner_id, document_id, created_at_ns)`,
	`CREATE TABLE IF NOT EXISTS recent_documents (
	owner_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	content_handle TEXT NOT NULL,
	category TEXT NOT NULL,
	title TEXT NOT NULL,
	last_modified_ns BIGINT NOT NULL,
	PRIMARY KEY (owner_id, document_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_recent_documents_owner_modified
	ON recent_documents(owner_id, last_modified_ns DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_recent_documents_document
	ON recent_documents(document_id)`,
	`CREATE TABLE IF NOT EXISTS feedback (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	content_handle TEXT NOT NULL,
	prompt TEXT NOT NULL,
	output TEXT NOT NULL,
	verdict TEXT NOT NULL,
	improved TEXT NOT NULL,
	note TEXT NOT NULL,
	created_at_ns BIGINT NOT NULL,
	updated_at_ns BIGINT NOT NULL
)`,
}

func (d *DB) EnsureSchema(ctx context.Context) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if d.driver == DriverPostgres {
		// Serialize bootstrap DDL across api/worker startups.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101801)); err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
	}

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema ddl: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// rebind rewrites '?' placeholders into '$n' for Postgres.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
