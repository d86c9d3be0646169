// Package store owns the relational schema: principals and their sync
// checkpoints, messages keyed by provider message id, offloaded attachment
// references, sync run history, and the event outbox.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database shared by all sync runs.
type Store struct {
	db *sqlx.DB
}

const dsnPragmas = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Open opens (or creates) the database at dbPath and applies pending
// migrations. The pragmas ride on the DSN so every pooled connection gets
// them, not just the one that happened to run a PRAGMA statement.
// Use ":memory:" in tests.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath + "?" + dsnPragmas
	memory := dbPath == ":memory:"
	if memory {
		// A plain ":memory:" DSN gives each pooled connection its own empty
		// database; shared cache keeps them on one.
		dsn = "file::memory:?cache=shared&" + dsnPragmas
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if memory {
		// The shared in-memory database lives only while a connection holds
		// it open; a single pinned connection keeps it alive.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}
