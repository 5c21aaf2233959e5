// Package sqlstore provides a SQL-backed implementation of the storage.Store interface.
// SQLite is the default backend; Postgres is supported with the same queries.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cora-hq/cora/internal/storage"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store implements storage.Store on database/sql via sqlx.
// Queries are written with ? placeholders and rebound for the driver.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New opens a SQLite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	s, err := Open(DriverSQLite, dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Open connects to the database without migrating it.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		return openSQLite(dsn)
	case DriverPostgres:
		db, err := sqlx.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return &Store{db: db, driver: driver}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// NewWithDB wraps an existing connection. Used by tests with sqlmock.
func NewWithDB(db *sql.DB, driver string) *Store {
	return &Store{db: sqlx.NewDb(db, driver), driver: driver}
}

func openSQLite(dsn string) (*Store, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path != ":memory:" && path != "" {
		// Create parent directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// PRAGMAs are per connection, so they go in the DSN rather than a one-off Exec.
	if !strings.Contains(dsn, "?") {
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{db: db, driver: DriverSQLite}, nil
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// q rebinds a ?-placeholder query for the store's driver.
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// nullString maps "" to SQL NULL for nullable foreign keys.
func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

// isUniqueViolation reports whether err is a unique or primary key violation
// from either supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// wrapWriteErr converts uniqueness violations into storage.ErrConflict.
func wrapWriteErr(err error, what string) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", storage.ErrConflict, what)
	}
	return fmt.Errorf("failed to insert %s: %w", what, err)
}

// notFound converts sql.ErrNoRows into storage.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", storage.ErrNotFound, what, id)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
