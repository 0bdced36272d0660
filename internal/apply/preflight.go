package apply

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"canon/internal/canonerr"
	"canon/internal/manifest"
	"canon/internal/store"
)

// filterByRoots restricts entries to those whose root_id resolves from one
// of the given `--root` specifiers, per spec.md §4.7 Phase B(3). An empty
// roots list is a no-op, grounded on original_source/src/apply.rs's
// filter_by_roots.
func filterByRoots(ctx context.Context, st *store.Store, entries []manifest.Entry, roots []string) ([]manifest.Entry, error) {
	if len(roots) == 0 {
		return entries, nil
	}
	allowed := make(map[int64]bool, len(roots))
	for _, spec := range roots {
		id, err := st.ParseRootSpec(ctx, spec)
		if err != nil {
			return nil, err
		}
		allowed[id] = true
	}
	var out []manifest.Entry
	for _, e := range entries {
		if allowed[e.RootID] {
			out = append(out, e)
		}
	}
	return out, nil
}

// validateEntry runs Phase A against one entry: its source must still
// exist with the manifest's recorded basis_rev, must not carry
// policy.exclude, and re-expanding the output pattern must yield the same
// destination the manifest recorded.
func validateEntry(ctx context.Context, st *store.Store, e manifest.Entry, pattern string) (*store.Source, *ValidationFailure) {
	src, err := st.GetSource(ctx, e.SourceID)
	if err != nil {
		return nil, &ValidationFailure{SourceID: e.SourceID, Reason: fmt.Sprintf("lookup failed: %v", err)}
	}
	if src == nil {
		return nil, &ValidationFailure{SourceID: e.SourceID, Reason: "source no longer exists"}
	}
	if src.BasisRev != e.BasisRev {
		return nil, &ValidationFailure{SourceID: e.SourceID, Reason: fmt.Sprintf(
			"basis_rev mismatch: manifest recorded %d, current %d", e.BasisRev, src.BasisRev)}
	}

	excluded, err := store.GetFact(ctx, st.DB(), store.TargetSource, src.ID, "policy.exclude")
	if err != nil {
		return nil, &ValidationFailure{SourceID: e.SourceID, Reason: fmt.Sprintf("exclude check failed: %v", err)}
	}
	if excluded == nil && src.ObjectID != nil {
		excluded, err = store.GetFact(ctx, st.DB(), store.TargetObject, *src.ObjectID, "policy.exclude")
		if err != nil {
			return nil, &ValidationFailure{SourceID: e.SourceID, Reason: fmt.Sprintf("exclude check failed: %v", err)}
		}
	}
	if excluded != nil && excluded.Value.String() == "true" {
		return nil, &ValidationFailure{SourceID: e.SourceID, Reason: "source is marked policy.exclude"}
	}

	facts, err := store.EffectiveFacts(ctx, st.DB(), *src)
	if err != nil {
		return nil, &ValidationFailure{SourceID: e.SourceID, Reason: fmt.Sprintf("load facts failed: %v", err)}
	}
	var hash string
	if src.ObjectID != nil {
		obj, err := st.GetObject(ctx, *src.ObjectID)
		if err != nil {
			return nil, &ValidationFailure{SourceID: e.SourceID, Reason: fmt.Sprintf("load object failed: %v", err)}
		}
		if obj != nil {
			hash = obj.Hash
		}
	}
	vars := manifest.ExpandVars(e.SourceID, e.Path, hash, facts, src.Mtime)
	dest, err := manifest.Expand(pattern, vars)
	if err != nil {
		return nil, &ValidationFailure{SourceID: e.SourceID, Reason: fmt.Sprintf("pattern re-expansion failed: %v", err)}
	}
	if dest != e.Dest {
		return nil, &ValidationFailure{SourceID: e.SourceID, Reason: fmt.Sprintf(
			"pattern re-expansion drifted: manifest recorded %q, now %q", e.Dest, dest)}
	}

	return src, nil
}

// checkCollisions groups entries by their absolute destination path and
// reports every group with more than one member, per spec.md §4.7 Phase
// B(1). Sorted by destination for stable reporting.
func checkCollisions(entries []manifest.Entry, baseDir string) []Collision {
	byDest := make(map[string][]int64)
	for _, e := range entries {
		dest := filepath.Join(baseDir, e.Dest)
		byDest[dest] = append(byDest[dest], e.SourceID)
	}
	var collisions []Collision
	for dest, ids := range byDest {
		if len(ids) > 1 {
			collisions = append(collisions, Collision{Dest: dest, SourceIDs: ids})
		}
	}
	sort.Slice(collisions, func(i, j int) bool { return collisions[i].Dest < collisions[j].Dest })
	return collisions
}

// checkDestinationExists reports, for every entry, whether its destination
// already exists on disk — a fatal pre-flight condition per spec.md §4.7
// Phase B(2) ("if the target path already exists on disk -> fatal").
func checkDestinationExists(entries []manifest.Entry, baseDir string) []ValidationFailure {
	var failures []ValidationFailure
	for _, e := range entries {
		dest := filepath.Join(baseDir, e.Dest)
		if _, err := os.Lstat(dest); err == nil {
			failures = append(failures, ValidationFailure{
				SourceID: e.SourceID,
				Reason:   fmt.Sprintf("destination already exists: %s", dest),
			})
		}
	}
	return failures
}

// archiveConflict classifies one entry's object against the archive roots
// it is already linked into, per spec.md §4.7 Phase B(2). Grounded on
// original_source/src/apply.rs's check_archive_conflicts_filtered, but
// the distilled spec downgrades both conflict kinds from a whole-run abort
// to a per-entry skip with notice.
func archiveConflict(ctx context.Context, st *store.Store, objectID, destArchiveRootID int64, allowCrossArchive bool) (skip bool, reason string, err error) {
	rows, err := st.DB().QueryContext(ctx, `
		SELECT r.id FROM sources s
		JOIN roots r ON r.id = s.root_id
		WHERE s.object_id = ? AND r.role = ?`, objectID, string(store.RoleArchive))
	if err != nil {
		return false, "", canonerr.Wrap(canonerr.ErrIO, "apply", "archive_conflict", "query archive sources", err)
	}
	defer rows.Close()

	var inDest, inOther bool
	for rows.Next() {
		var rootID int64
		if err := rows.Scan(&rootID); err != nil {
			return false, "", canonerr.Wrap(canonerr.ErrIO, "apply", "archive_conflict", "scan root id", err)
		}
		if rootID == destArchiveRootID {
			inDest = true
		} else {
			inOther = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, "", canonerr.Wrap(canonerr.ErrIO, "apply", "archive_conflict", "iterate archive sources", err)
	}

	switch {
	case inDest:
		return true, "object already present in the destination archive", nil
	case inOther && !allowCrossArchive:
		return true, "object already present in another archive root", nil
	default:
		return false, "", nil
	}
}
