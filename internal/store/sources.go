package store

import (
	"context"
	"database/sql"

	"canon/internal/canonerr"
)

const sourceColumns = "id, root_id, rel_path, size, mtime, device, inode, basis_rev, seen_rev, object_id"

func scanSource(row interface {
	Scan(dest ...any) error
}) (Source, error) {
	var s Source
	var device, inode sql.NullInt64
	var objectID sql.NullInt64
	err := row.Scan(&s.ID, &s.RootID, &s.RelPath, &s.Size, &s.Mtime, &device, &inode, &s.BasisRev, &s.SeenRev, &objectID)
	if err != nil {
		return Source{}, err
	}
	if device.Valid {
		s.Device = device.Int64
	}
	if inode.Valid {
		s.Inode = inode.Int64
	}
	if objectID.Valid {
		id := objectID.Int64
		s.ObjectID = &id
	}
	return s, nil
}

// FindSourceByPath looks up a source by (root, relative path) — scanner
// reconciliation priority (a).
func (s *Store) FindSourceByPath(ctx context.Context, rootID int64, relPath string) (*Source, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE root_id = ? AND rel_path = ?", rootID, relPath)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "store", "sources", "find by path", err)
	}
	return &src, nil
}

// FindSourceByDeviceInode looks up a source anywhere in the store by
// physical identity — scanner reconciliation priority (b), the move
// detection path.
func (s *Store) FindSourceByDeviceInode(ctx context.Context, device, inode int64) (*Source, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE device = ? AND inode = ?", device, inode)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "store", "sources", "find by device/inode", err)
	}
	return &src, nil
}

// GetSource returns the source with the given id.
func (s *Store) GetSource(ctx context.Context, id int64) (*Source, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sourceColumns+" FROM sources WHERE id = ?", id)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "store", "sources", "get source", err)
	}
	return &src, nil
}

// InsertSource creates a new source with basis_rev 0, per spec §4.2 step 3(c).
func (s *Store) InsertSource(ctx context.Context, rootID int64, relPath string, size, mtime, device, inode, seenRev int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (root_id, rel_path, size, mtime, device, inode, basis_rev, seen_rev)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		rootID, relPath, size, mtime, device, inode, seenRev)
	if err != nil {
		return 0, canonerr.Wrap(canonerr.ErrIO, "store", "sources", "insert source", err)
	}
	return res.LastInsertId()
}

// UpdateSourceUnchanged refreshes seen_rev without touching basis_rev, for
// an (a)-match whose size/mtime did not change.
func (s *Store) UpdateSourceUnchanged(ctx context.Context, id, device, inode, seenRev int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sources SET device = ?, inode = ?, seen_rev = ? WHERE id = ?",
		device, inode, seenRev, id)
	if err != nil {
		return canonerr.Wrap(canonerr.ErrIO, "store", "sources", "update unchanged", err)
	}
	return nil
}

// UpdateSourceChanged bumps basis_rev and updates the observed attributes,
// for an (a)-match whose size or mtime differs, per spec §4.2 step 4.
func (s *Store) UpdateSourceChanged(ctx context.Context, id, size, mtime, device, inode, newBasisRev, seenRev int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sources SET size = ?, mtime = ?, device = ?, inode = ?, basis_rev = ?, seen_rev = ? WHERE id = ?",
		size, mtime, device, inode, newBasisRev, seenRev, id)
	if err != nil {
		return canonerr.Wrap(canonerr.ErrIO, "store", "sources", "update changed", err)
	}
	return nil
}

// ApplyMove rewrites a source's root and relative path (a cross-root move
// is representable), per spec §4.2 step 3(b). basis_rev only increments if
// size or mtime also changed.
func (s *Store) ApplyMove(ctx context.Context, id, newRootID int64, newRelPath string, size, mtime, newBasisRev, seenRev int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sources SET root_id = ?, rel_path = ?, size = ?, mtime = ?, basis_rev = ?, seen_rev = ? WHERE id = ?",
		newRootID, newRelPath, size, mtime, newBasisRev, seenRev, id)
	if err != nil {
		return canonerr.Wrap(canonerr.ErrIO, "store", "sources", "apply move", err)
	}
	return nil
}

// MarkMissing reports (but does not delete) sources under root whose
// seen_rev predates the current scan generation, per spec §4.2 step 6.
func (s *Store) MarkMissing(ctx context.Context, rootID, generation int64) (int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM sources WHERE root_id = ? AND seen_rev < ?", rootID, generation)
	if err != nil {
		return 0, canonerr.Wrap(canonerr.ErrIO, "store", "sources", "find missing", err)
	}
	defer rows.Close()
	var count int64
	for rows.Next() {
		count++
	}
	return count, rows.Err()
}

// LinkObject sets source.object_id, rejecting a change to an existing
// different linkage (spec §4.4 step 5: "idempotent; existing different
// linkage is an error").
func (s *Store) LinkObject(ctx context.Context, id, objectID int64) error {
	var current sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT object_id FROM sources WHERE id = ?", id).Scan(&current); err != nil && err != sql.ErrNoRows {
		return canonerr.Wrap(canonerr.ErrIO, "store", "sources", "link object", err)
	}
	if current.Valid && current.Int64 != objectID {
		return canonerr.Wrap(canonerr.ErrConsistency, "store", "sources",
			"source is already linked to a different object", nil)
	}
	_, err := s.db.ExecContext(ctx, "UPDATE sources SET object_id = ? WHERE id = ?", objectID, id)
	if err != nil {
		return canonerr.Wrap(canonerr.ErrIO, "store", "sources", "link object", err)
	}
	return nil
}

// SourcesForRoot lists every source recorded under a root, ordered by id;
// sources not seen by the latest scan are included.
func (s *Store) SourcesForRoot(ctx context.Context, rootID int64) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sourceColumns+" FROM sources WHERE root_id = ? ORDER BY id", rootID)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "store", "sources", "list for root", err)
	}
	defer rows.Close()
	var out []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "store", "sources", "scan source", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
