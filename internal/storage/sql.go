// Package storage persists the paper catalog in SQL databases (SQLite by
// default, PostgreSQL for shared deployments) and exchanges catalog
// snapshots as JSONL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/wetneb/dissemin/internal/catalog"
)

// Dialect selects the SQL flavor of a database.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the SQL catalog store. It implements catalog.Store.
type DB struct {
	db      *sql.DB
	dialect Dialect
	q       querier
	inTx    bool
}

var _ catalog.Store = (*DB)(nil)

// New wraps an open connection pool. The schema is not created.
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{db: db, dialect: dialect, q: db}
}

// OpenSQLite opens or creates a SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	d := New(db, SQLite)
	if err := d.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return d, nil
}

// OpenPostgres connects to a PostgreSQL database through the pgx driver.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	d := New(db, Postgres)
	if err := d.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return d, nil
}

// Open dispatches on the configured driver name.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case "sqlite", "":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Dialect returns the SQL flavor of the database.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

const schema = `
	CREATE TABLE IF NOT EXISTS papers (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		pub_year INTEGER NOT NULL,
		pub_month INTEGER,
		pub_day INTEGER,
		doctype TEXT NOT NULL,
		visibility TEXT NOT NULL,
		pdf_url TEXT,
		oa_status TEXT NOT NULL,
		authors_json TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		id {{serial}},
		paper_id TEXT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
		source TEXT NOT NULL,
		identifier TEXT NOT NULL,
		doi TEXT,
		splash_url TEXT,
		pdf_url TEXT,
		pubtype TEXT NOT NULL,
		priority INTEGER NOT NULL,
		UNIQUE (source, identifier)
	);

	CREATE INDEX IF NOT EXISTS idx_records_doi ON records(doi) WHERE doi IS NOT NULL AND doi != '';
	CREATE INDEX IF NOT EXISTS idx_records_paper ON records(paper_id);

	CREATE TABLE IF NOT EXISTS researchers (
		id {{serial}},
		orcid TEXT NOT NULL UNIQUE,
		first_name TEXT,
		last_name TEXT,
		homepage TEXT,
		user_id TEXT,
		empty_orcid_profile BOOLEAN
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id {{serial}},
		user_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		level TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user_tag ON notifications(user_id, tag);
`

// EnsureSchema creates the tables if they don't exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.dialect == Postgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	_, err := d.db.ExecContext(ctx, strings.ReplaceAll(schema, "{{serial}}", serial))
	return err
}

// InTx implements catalog.Store. Nested calls join the enclosing
// transaction.
func (d *DB) InTx(ctx context.Context, fn func(catalog.Store) error) error {
	return d.tx(ctx, func(tx *DB) error { return fn(tx) })
}

func (d *DB) tx(ctx context.Context, fn func(*DB) error) error {
	if d.inTx {
		return fn(d)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&DB{db: d.db, dialect: d.dialect, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", mapError(err))
	}
	return nil
}

// rebind rewrites ? placeholders into the dialect's form.
func (d *DB) rebind(query string) string {
	if d.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.q.ExecContext(ctx, d.rebind(query), args...)
	return res, mapError(err)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := d.q.QueryContext(ctx, d.rebind(query), args...)
	return rows, mapError(err)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.q.QueryRowContext(ctx, d.rebind(query), args...)
}

// mapError translates constraint violations into catalog errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %v", catalog.ErrDuplicate, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %v", catalog.ErrNotFound, err)
		}
		return err
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", catalog.ErrDuplicate, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", catalog.ErrNotFound, err)
		}
	}
	return err
}

// affected returns ErrNotFound when res touched no row.
func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// nullableString converts a string to sql.NullString, treating empty as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func nullableBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
