package worklist

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"canon/internal/canonerr"
	"canon/internal/filter"
	"canon/internal/store"
)

// Record is one line of the worklist stream, the contract spec.md §6
// "Worklist record" defines.
type Record struct {
	SourceID int64  `json:"source_id"`
	Path     string `json:"path"`
	RootID   int64  `json:"root_id"`
	Size     int64  `json:"size"`
	Mtime    int64  `json:"mtime"`
	BasisRev int64  `json:"basis_rev"`
}

// Options controls the scope rules spec.md §4.3 names.
type Options struct {
	// Subpath restricts emission to sources whose relative path falls
	// under this prefix, if non-empty.
	Subpath string
	// IncludeArchived lifts the default source-role-only restriction.
	IncludeArchived bool
	// IncludeExcluded additionally includes sources carrying
	// policy.exclude = true.
	IncludeExcluded bool
}

// Produce streams one JSON record per line to w for every source matching
// node within the given scope, per spec.md §4.3.
func Produce(ctx context.Context, st *store.Store, w io.Writer, node filter.Node, opts Options) (int, error) {
	query := `SELECT s.id, s.root_id, r.path, s.rel_path, s.size, s.mtime, s.basis_rev
		FROM sources s
		JOIN roots r ON r.id = s.root_id
		WHERE 1=1`
	var args []any

	if !opts.IncludeArchived {
		query += " AND r.role = ?"
		args = append(args, string(store.RoleSource))
	}

	if !opts.IncludeExcluded {
		query += ` AND NOT EXISTS (
			SELECT 1 FROM facts f WHERE f.target_kind = 'source' AND f.target_id = s.id
			AND f.key = 'policy.exclude' AND f.value_text = 'true')`
	}

	if opts.Subpath != "" {
		prefix := strings.TrimSuffix(opts.Subpath, "/")
		query += " AND (s.rel_path = ? OR s.rel_path LIKE ?)"
		args = append(args, prefix, prefix+"/%")
	}

	if node != nil {
		clause, clauseArgs, err := filter.Compile(node)
		if err != nil {
			return 0, err
		}
		query += " AND (" + clause + ")"
		args = append(args, clauseArgs...)
	}

	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return 0, canonerr.Wrap(canonerr.ErrIO, "worklist", "produce", "query sources", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		var rec Record
		var rootPath, relPath string
		if err := rows.Scan(&rec.SourceID, &rec.RootID, &rootPath, &relPath, &rec.Size, &rec.Mtime, &rec.BasisRev); err != nil {
			return count, canonerr.Wrap(canonerr.ErrIO, "worklist", "produce", "scan row", err)
		}
		rec.Path = filepath.Join(rootPath, relPath)
		if err := enc.Encode(rec); err != nil {
			return count, canonerr.Wrap(canonerr.ErrIO, "worklist", "produce", "write record", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, canonerr.Wrap(canonerr.ErrIO, "worklist", "produce", "iterate rows", err)
	}
	return count, nil
}
