package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"canon/internal/canonerr"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes in an incompatible way; users clear their store after a bump.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the
// version this build expects.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return canonerr.Wrap(canonerr.ErrStoreLocked, "store", "init", "check schema_version table", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return canonerr.Wrap(canonerr.ErrStoreLocked, "store", "init", "read schema version", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to reinitialize)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return canonerr.Wrap(canonerr.ErrStoreLocked, "store", "init", "begin schema tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return canonerr.Wrap(canonerr.ErrStoreLocked, "store", "init", "create schema_version", err)
	}
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return canonerr.Wrap(canonerr.ErrStoreLocked, "store", "init", "create schema", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return canonerr.Wrap(canonerr.ErrStoreLocked, "store", "init", "record schema version", err)
	}
	if err := tx.Commit(); err != nil {
		return canonerr.Wrap(canonerr.ErrStoreLocked, "store", "init", "commit schema", err)
	}
	return nil
}
