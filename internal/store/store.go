// Package store is Canon's single embedded relational store: the Root,
// Source, Object, and Fact tables plus the queries every other component
// compiles against. It is opened once per command invocation in
// write-ahead mode with a busy-wait timeout, mirroring the teacher's
// queue.Store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages Canon's persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the store and applies the schema.
// busyTimeout is rounded up to whole milliseconds.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	millis := busyTimeout.Milliseconds()
	if millis <= 0 {
		millis = 5000
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", millis),
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the filesystem path of the store's database file.
func (s *Store) Path() string {
	return s.path
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error, including a panic re-raised after rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// DB exposes the underlying connection pool for packages (coverage, facts
// query) that need to compile their own read-only queries against the
// schema rather than go through a narrow method set.
func (s *Store) DB() *sql.DB {
	return s.db
}
