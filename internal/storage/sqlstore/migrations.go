package sqlstore

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrationsFS holds one directory of versioned migrations per dialect.
// Files follow golang-migrate naming: NNNNNN_name.up.sql / NNNNNN_name.down.sql.
//
//go:embed migrations
var migrationsFS embed.FS

// migrator builds a migrate instance over the store's connection.
// It must not be closed: closing it closes the shared *sql.DB.
func (s *Store) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+s.driver)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	var drv database.Driver
	switch s.driver {
	case DriverSQLite:
		drv, err = migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	case DriverPostgres:
		drv, err = migratepg.WithInstance(s.db.DB, &migratepg.Config{})
	default:
		err = fmt.Errorf("unsupported database driver: %q", s.driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.driver, drv)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// Migrate applies all pending up migrations.
func (s *Store) Migrate() error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// Version returns the current schema version. applied is false on an empty database.
func (s *Store) Version() (version uint, dirty bool, applied bool, err error) {
	m, err := s.migrator()
	if err != nil {
		return 0, false, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, true, nil
}
