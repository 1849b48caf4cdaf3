package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound is returned when no item has the requested id.
	ErrNotFound = errors.New("item not found")
	// ErrDuplicateHash is returned when an insert collides with an existing content hash.
	ErrDuplicateHash = errors.New("content hash already stored")
)

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"busy_timeout(5000)",
	"temp_store(MEMORY)",
	"cache_size(-64000)",
}

// DB wraps a SQLite database connection
type DB struct {
	conn *sql.DB
	Path string

	// writeMu serializes writers inside this process. busy_timeout and the
	// retry loop cover contention with other processes.
	writeMu    sync.Mutex
	maxRetries uint64
	retryBase  time.Duration
}

// Option tunes an opened DB.
type Option func(*DB)

// WithBusyRetry sets how many times a write is retried on SQLITE_BUSY and the
// base delay of the exponential backoff between attempts.
func WithBusyRetry(attempts uint64, base time.Duration) Option {
	return func(d *DB) {
		d.maxRetries = attempts
		d.retryBase = base
	}
}

// OpenDB opens a SQLite database with WAL mode, applies pragmas and runs migrations
func OpenDB(path string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		conn.SetMaxOpenConns(1)
	}

	if err := migrate(context.Background(), conn); err != nil {
		conn.Close()
		return nil, err
	}

	d := &DB{conn: conn, Path: path, maxRetries: 5, retryBase: 20 * time.Millisecond}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func buildDSN(path string) string {
	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

func migrate(ctx context.Context, conn *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying sql.DB for custom queries
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// write runs fn in a transaction while holding the write lock, retrying the
// whole transaction when SQLite reports lock contention.
func (d *DB) write(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	backoff := retry.WithMaxRetries(d.maxRetries, retry.NewExponential(d.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := withTx(ctx, d.conn, fn)
		if isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code(), true
	}
	return 0, false
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		primary := code & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}
	return strings.Contains(err.Error(), "database is locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok && code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
