package store

import (
	"context"
	"database/sql"

	"canon/internal/canonerr"
)

// GetOrCreateObject resolves the object for hash, creating it if this is
// the first fact import to reference it (spec §3 Object lifecycle:
// "created lazily on first fact import of hash.sha256").
func (s *Store) GetOrCreateObject(ctx context.Context, hash string) (Object, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id FROM objects WHERE hash = ?", hash)
	var id int64
	switch err := row.Scan(&id); err {
	case nil:
		return Object{ID: id, Hash: hash}, false, nil
	case sql.ErrNoRows:
	default:
		return Object{}, false, canonerr.Wrap(canonerr.ErrIO, "store", "objects", "lookup object", err)
	}

	res, err := s.db.ExecContext(ctx, "INSERT INTO objects (hash) VALUES (?)", hash)
	if err != nil {
		return Object{}, false, canonerr.Wrap(canonerr.ErrIO, "store", "objects", "insert object", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return Object{}, false, canonerr.Wrap(canonerr.ErrIO, "store", "objects", "last insert id", err)
	}
	return Object{ID: newID, Hash: hash}, true, nil
}

// GetObject returns the object with the given id.
func (s *Store) GetObject(ctx context.Context, id int64) (*Object, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, hash FROM objects WHERE id = ?", id)
	var o Object
	if err := row.Scan(&o.ID, &o.Hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, canonerr.Wrap(canonerr.ErrIO, "store", "objects", "get object", err)
	}
	return &o, nil
}
