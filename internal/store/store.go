// Package store is the durable authority for pipeline state: the media
// manifest, per-stage checkpoints, and the derived cluster view. It is
// backed by a single SQLite database so checkpoint lookups and updates
// stay cheap at any manifest size.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"dredge/pkg/errors"
)

const currentSchemaVersion = 1

// Store wraps the SQLite database holding all durable pipeline state.
type Store struct {
	db *sql.DB
}

// Open opens or creates the state database at the given path and brings
// its schema up to date. Failures are checkpoint errors: without the
// store the pipeline cannot claim progress safely.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "opening state database", err)
	}

	// SQLite works best with a single writer; this also serializes the
	// checkpoint and manifest writes coming from concurrent stage workers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "migrating state database", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transaction runs fn inside a transaction, rolling back on error.
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "beginning transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "committing transaction", err)
	}
	return nil
}

// migrate brings the schema up to currentSchemaVersion.
func (s *Store) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}

	// Future migrations go here: if version < 2 { ... }

	return tx.Commit()
}

// schemaVersion returns the highest applied schema version, 0 for a
// fresh database.
func (s *Store) schemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name = 'schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version sql.NullInt64
	err = s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}
