// Package store persists Task and Event records to SQLite. It is the
// single boundary in this system that normalizes timestamps to UTC:
// every other package can assume a *task.Task loaded from the Store
// already carries UTC-aware times.
package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/maumercado/task-orchestrator/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed durable home for tasks and their audit trail.
type Store struct {
	db *sql.DB
}

// Open creates (if necessary) and migrates the SQLite database at path,
// returning a ready-to-use Store. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("store: migration init: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: migration up: %w", err)
	}

	logger.Info().Msg("store migrations applied")
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for components (e.g. the health check)
// that only need to ping.
func (s *Store) DB() *sql.DB {
	return s.db
}
