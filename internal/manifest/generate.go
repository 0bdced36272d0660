package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"canon/internal/canonerr"
	"canon/internal/filter"
	"canon/internal/store"
)

// ResolveArchiveDest finds the registered archive-role root that contains
// dest and returns its id plus dest's path relative to that root, per
// spec.md §4.6: "--dest must resolve inside a registered archive root."
// Grounded on original_source/src/cluster.rs's destination resolution,
// which walks registered roots looking for a path prefix match.
func ResolveArchiveDest(ctx context.Context, st *store.Store, dest string) (int64, string, error) {
	roots, err := st.ListRoots(ctx, store.RoleArchive)
	if err != nil {
		return 0, "", err
	}
	cleanDest := filepath.Clean(dest)
	for _, r := range roots {
		rootPath := filepath.Clean(r.Path)
		if cleanDest == rootPath {
			return r.ID, "", nil
		}
		if strings.HasPrefix(cleanDest, rootPath+string(filepath.Separator)) {
			rel, err := filepath.Rel(rootPath, cleanDest)
			if err != nil {
				return 0, "", canonerr.Wrap(canonerr.ErrIO, "manifest", "resolve_dest", "compute relative base dir", err)
			}
			return r.ID, rel, nil
		}
	}
	return 0, "", canonerr.Wrap(canonerr.ErrUserInput, "manifest", "resolve_dest",
		fmt.Sprintf("%s is not inside any registered archive root", dest), nil)
}

// GenerateOptions configures one manifest generation run.
type GenerateOptions struct {
	ArchiveRootID   int64
	BaseDir         string
	Pattern         string
	IncludeArchived bool
	QueryText       []string
}

// sourceRow mirrors the columns Generate needs straight off the sources
// table, avoiding a round trip through store.Source for fields this
// package doesn't otherwise touch.
type sourceRow struct {
	id, rootID        int64
	rootPath, relPath string
	size, mtime       int64
	objectID          *int64
}

// Generate builds a Manifest for every source matching node, per spec.md
// §4.6: sources carrying policy.exclude are always dropped (a hard gate,
// no override — grounded on original_source/src/cluster.rs's
// query_sources, which never offers an "include excluded" flag the way
// the worklist does), and sources already present in the destination
// archive root are dropped unless IncludeArchived is set.
func Generate(ctx context.Context, st *store.Store, node filter.Node, opts GenerateOptions) (*Manifest, error) {
	archiveRoot, err := st.GetRoot(ctx, opts.ArchiveRootID)
	if err != nil {
		return nil, err
	}
	if archiveRoot == nil || archiveRoot.Role != store.RoleArchive {
		return nil, canonerr.Wrap(canonerr.ErrUserInput, "manifest", "generate",
			fmt.Sprintf("root %d is not a registered archive root", opts.ArchiveRootID), nil)
	}

	query := `SELECT s.id, s.root_id, r.path, s.rel_path, s.size, s.mtime, s.object_id
		FROM sources s
		JOIN roots r ON r.id = s.root_id
		WHERE r.role = ?
		AND NOT EXISTS (
			SELECT 1 FROM facts f WHERE f.target_kind = 'source' AND f.target_id = s.id
			AND f.key = 'policy.exclude' AND f.value_text = 'true')`
	args := []any{string(store.RoleSource)}

	if node != nil {
		clause, clauseArgs, err := filter.Compile(node)
		if err != nil {
			return nil, err
		}
		query += " AND (" + clause + ")"
		args = append(args, clauseArgs...)
	}

	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "manifest", "generate", "query sources", err)
	}
	defer rows.Close()

	var candidates []sourceRow
	for rows.Next() {
		var row sourceRow
		var objectID *int64
		if err := rows.Scan(&row.id, &row.rootID, &row.rootPath, &row.relPath, &row.size, &row.mtime, &objectID); err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "manifest", "generate", "scan source", err)
		}
		row.objectID = objectID
		candidates = append(candidates, row)
	}
	if err := rows.Err(); err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "manifest", "generate", "iterate sources", err)
	}

	m := &Manifest{
		Query:         opts.QueryText,
		ArchiveRootID: opts.ArchiveRootID,
		Output: Output{
			Pattern: opts.Pattern,
			BaseDir: opts.BaseDir,
		},
	}

	for _, row := range candidates {
		if !opts.IncludeArchived && row.objectID != nil {
			archived, err := isArchived(ctx, st, *row.objectID, opts.ArchiveRootID)
			if err != nil {
				return nil, err
			}
			if archived {
				continue
			}
		}

		entry, err := buildEntry(ctx, st, row, opts.Pattern)
		if err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, entry)
	}

	return m, nil
}

// isArchived reports whether objectID already has a linked source living
// in archiveRootID, per original_source/src/coverage.rs's archived-hash-set
// idea narrowed to a single root.
func isArchived(ctx context.Context, st *store.Store, objectID, archiveRootID int64) (bool, error) {
	var count int
	row := st.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sources WHERE object_id = ? AND root_id = ?", objectID, archiveRootID)
	if err := row.Scan(&count); err != nil {
		return false, canonerr.Wrap(canonerr.ErrIO, "manifest", "is_archived", "count archive sources", err)
	}
	return count > 0, nil
}

func buildEntry(ctx context.Context, st *store.Store, row sourceRow, pattern string) (Entry, error) {
	src, err := st.GetSource(ctx, row.id)
	if err != nil {
		return Entry{}, err
	}
	if src == nil {
		return Entry{}, canonerr.Wrap(canonerr.ErrConsistency, "manifest", "build_entry",
			fmt.Sprintf("source %d vanished mid-generation", row.id), nil)
	}

	facts, err := store.EffectiveFacts(ctx, st.DB(), *src)
	if err != nil {
		return Entry{}, err
	}

	var hash string
	if src.ObjectID != nil {
		obj, err := st.GetObject(ctx, *src.ObjectID)
		if err != nil {
			return Entry{}, err
		}
		if obj != nil {
			hash = obj.Hash
		}
	}

	absPath := filepath.Join(row.rootPath, row.relPath)
	vars := ExpandVars(row.id, absPath, hash, facts, row.mtime)
	dest, err := Expand(pattern, vars)
	if err != nil {
		return Entry{}, err
	}

	flat := make(map[string]string, len(facts))
	for key, f := range facts {
		flat[key] = f.Value.String()
	}

	return Entry{
		SourceID: row.id,
		RootID:   row.rootID,
		Path:     absPath,
		Dest:     dest,
		BasisRev: src.BasisRev,
		Facts:    flat,
	}, nil
}

// Stamp sets GeneratedAt to now, called by the caller (manifest.Generate
// cannot call time.Now itself and stay deterministic for tests, so tests
// call Generate directly and stamp separately in production code paths).
func Stamp(m *Manifest, now time.Time) {
	m.GeneratedAt = now
}
