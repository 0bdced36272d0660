package coverage

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"canon/internal/canonerr"
	"canon/internal/filter"
	"canon/internal/store"
)

// defaultBuiltinKeys are the source.* keys the Overview includes without
// --all: the ones a user filtering or clustering commonly needs. All of
// them are present on every source (source.ext is derived from rel_path)
// except object_id, whose presence depends on fact-import linkage.
var defaultBuiltinKeys = []string{
	"source.size", "source.mtime", "source.ext", "source.basis_rev",
	"source.seen_rev", "source.object_id",
}

// verboseBuiltinKeys are the additional derived/verbose built-ins --all
// includes, per spec.md §4.5.
var verboseBuiltinKeys = []string{
	"source.root_id", "source.rel_path", "source.device", "source.inode",
}

// KeyCoverage is one row of the overview report.
type KeyCoverage struct {
	Key     string
	Count   int
	Total   int
	BuiltIn bool
}

// Fraction returns Count/Total, or 0 when Total is 0.
func (k KeyCoverage) Fraction() float64 {
	if k.Total == 0 {
		return 0
	}
	return float64(k.Count) / float64(k.Total)
}

// ValueCount is one row of a key's value distribution.
type ValueCount struct {
	Value string
	Count int
}

// matchedWhere compiles a filter into a WHERE clause over "sources s",
// defaulting to "1=1" when node is nil (no filter supplied).
func matchedWhere(node filter.Node) (string, []any, error) {
	if node == nil {
		return "1=1", nil, nil
	}
	return filter.Compile(node)
}

// MatchCount returns the number of sources matching node.
func MatchCount(ctx context.Context, st *store.Store, node filter.Node) (int, error) {
	clause, args, err := matchedWhere(node)
	if err != nil {
		return 0, err
	}
	var n int
	row := st.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM sources s WHERE "+clause, args...)
	if err := row.Scan(&n); err != nil {
		return 0, canonerr.Wrap(canonerr.ErrIO, "coverage", "count", "count matched sources", err)
	}
	return n, nil
}

// Overview reports, for every fact key observed on any matched source
// (directly or via its object), the number of matched sources for which
// the key exists, sorted descending by count then lexicographically by
// key, per spec.md §4.5. With all=false only defaultBuiltinKeys are
// included among the built-ins; all=true adds verboseBuiltinKeys too.
func Overview(ctx context.Context, st *store.Store, node filter.Node, all bool) ([]KeyCoverage, int, error) {
	clause, args, err := matchedWhere(node)
	if err != nil {
		return nil, 0, err
	}

	total, err := MatchCount(ctx, st, node)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	rows, err := st.DB().QueryContext(ctx, `
		WITH matched AS (SELECT s.id, s.object_id FROM sources s WHERE `+clause+`)
		SELECT f.key, COUNT(DISTINCT m.id) AS cnt
		FROM matched m
		JOIN facts f ON (
			(f.target_kind = 'source' AND f.target_id = m.id) OR
			(f.target_kind = 'object' AND m.object_id IS NOT NULL AND f.target_id = m.object_id)
		)
		GROUP BY f.key`, args...)
	if err != nil {
		return nil, 0, canonerr.Wrap(canonerr.ErrIO, "coverage", "overview", "query fact keys", err)
	}
	defer rows.Close()

	var results []KeyCoverage
	for rows.Next() {
		var kc KeyCoverage
		if err := rows.Scan(&kc.Key, &kc.Count); err != nil {
			return nil, 0, canonerr.Wrap(canonerr.ErrIO, "coverage", "overview", "scan row", err)
		}
		kc.Total = total
		results = append(results, kc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, canonerr.Wrap(canonerr.ErrIO, "coverage", "overview", "iterate rows", err)
	}

	builtinKeys := append([]string{}, defaultBuiltinKeys...)
	if all {
		builtinKeys = append(builtinKeys, verboseBuiltinKeys...)
	}
	for _, key := range builtinKeys {
		count := total
		if key == "source.object_id" {
			linked, err := linkedCount(ctx, st, clause, args)
			if err != nil {
				return nil, 0, err
			}
			count = linked
		}
		results = append(results, KeyCoverage{Key: key, Count: count, Total: total, BuiltIn: true})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Key < results[j].Key
	})

	return results, total, nil
}

func linkedCount(ctx context.Context, st *store.Store, clause string, args []any) (int, error) {
	var n int
	row := st.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sources s WHERE ("+clause+") AND s.object_id IS NOT NULL", args...)
	if err := row.Scan(&n); err != nil {
		return 0, canonerr.Wrap(canonerr.ErrIO, "coverage", "overview", "count linked sources", err)
	}
	return n, nil
}

// KeyDetail returns the value distribution for a single key over the
// matched source set: (value, count) sorted by count descending then
// value ascending, bounded by limit (0 = unlimited). source.ext is
// computed in Go since SQLite has no portable extension-extraction
// function; every other key is read from the facts table.
func KeyDetail(ctx context.Context, st *store.Store, node filter.Node, key string, limit int) ([]ValueCount, int, error) {
	total, err := MatchCount(ctx, st, node)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	if key == "source.ext" {
		dist, err := extDistribution(ctx, st, node)
		return applyLimit(dist, limit), total, err
	}

	clause, args, err := matchedWhere(node)
	if err != nil {
		return nil, 0, err
	}

	rows, err := st.DB().QueryContext(ctx, `
		WITH matched AS (SELECT s.id, s.object_id FROM sources s WHERE `+clause+`)
		SELECT COALESCE(f.value_text, CAST(f.value_num AS TEXT), datetime(f.value_time, 'unixepoch')) AS val, COUNT(*) AS cnt
		FROM matched m
		JOIN facts f ON (
			(f.target_kind = 'source' AND f.target_id = m.id) OR
			(f.target_kind = 'object' AND m.object_id IS NOT NULL AND f.target_id = m.object_id)
		)
		WHERE f.key = ?
		GROUP BY val
		ORDER BY cnt DESC, val ASC`, append(append([]any{}, args...), key)...)
	if err != nil {
		return nil, 0, canonerr.Wrap(canonerr.ErrIO, "coverage", "key_detail", "query value distribution", err)
	}
	defer rows.Close()

	var dist []ValueCount
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, 0, canonerr.Wrap(canonerr.ErrIO, "coverage", "key_detail", "scan row", err)
		}
		dist = append(dist, vc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, canonerr.Wrap(canonerr.ErrIO, "coverage", "key_detail", "iterate rows", err)
	}

	return applyLimit(dist, limit), total, nil
}

func extDistribution(ctx context.Context, st *store.Store, node filter.Node) ([]ValueCount, error) {
	clause, args, err := matchedWhere(node)
	if err != nil {
		return nil, err
	}
	rows, err := st.DB().QueryContext(ctx, "SELECT s.rel_path FROM sources s WHERE "+clause, args...)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "coverage", "ext", "query rel paths", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var relPath string
		if err := rows.Scan(&relPath); err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "coverage", "ext", "scan row", err)
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(relPath), "."))
		counts[ext]++
	}
	if err := rows.Err(); err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "coverage", "ext", "iterate rows", err)
	}

	dist := make([]ValueCount, 0, len(counts))
	for value, count := range counts {
		dist = append(dist, ValueCount{Value: value, Count: count})
	}
	sort.Slice(dist, func(i, j int) bool {
		if dist[i].Count != dist[j].Count {
			return dist[i].Count > dist[j].Count
		}
		return dist[i].Value < dist[j].Value
	})
	return dist, nil
}

func applyLimit(dist []ValueCount, limit int) []ValueCount {
	if limit <= 0 || len(dist) <= limit {
		return dist
	}
	return dist[:limit]
}

// RootCoverage is one row of the archive coverage report.
type RootCoverage struct {
	RootID     int64
	RootPath   string
	Role       store.Role
	Total      int
	Hashed     int
	Archived   int
	Unarchived int
}

// ArchiveCoverage partitions the matched source set by root and reports,
// per root, total/hashed/archived/unarchived, per spec.md §4.5. When
// archiveRootID is non-nil, "archived" is restricted to that one root;
// otherwise a source counts as archived if its object's hash matches any
// source in any archive-role root.
func ArchiveCoverage(ctx context.Context, st *store.Store, node filter.Node, archiveRootID *int64) ([]RootCoverage, error) {
	clause, args, err := matchedWhere(node)
	if err != nil {
		return nil, err
	}

	archivedHashes, err := archivedHashSet(ctx, st, archiveRootID)
	if err != nil {
		return nil, err
	}

	rows, err := st.DB().QueryContext(ctx, `
		SELECT r.id, r.path, r.role, s.id, o.hash
		FROM sources s
		JOIN roots r ON r.id = s.root_id
		LEFT JOIN objects o ON o.id = s.object_id
		WHERE `+clause+`
		ORDER BY r.path`, args...)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "coverage", "archive", "query sources", err)
	}
	defer rows.Close()

	byRoot := make(map[int64]*RootCoverage)
	var order []int64
	for rows.Next() {
		var rootID int64
		var rootPath, role string
		var sourceID int64
		var hash *string
		if err := rows.Scan(&rootID, &rootPath, &role, &sourceID, &hash); err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "coverage", "archive", "scan row", err)
		}
		rc, ok := byRoot[rootID]
		if !ok {
			rc = &RootCoverage{RootID: rootID, RootPath: rootPath, Role: store.Role(role)}
			byRoot[rootID] = rc
			order = append(order, rootID)
		}
		rc.Total++
		if hash != nil {
			rc.Hashed++
			if archivedHashes[*hash] {
				rc.Archived++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "coverage", "archive", "iterate rows", err)
	}

	out := make([]RootCoverage, 0, len(order))
	for _, id := range order {
		rc := byRoot[id]
		rc.Unarchived = rc.Hashed - rc.Archived
		out = append(out, *rc)
	}
	return out, nil
}

func archivedHashSet(ctx context.Context, st *store.Store, archiveRootID *int64) (map[string]bool, error) {
	query := `SELECT DISTINCT o.hash FROM sources s
		JOIN roots r ON r.id = s.root_id
		JOIN objects o ON o.id = s.object_id
		WHERE r.role = ?`
	args := []any{string(store.RoleArchive)}
	if archiveRootID != nil {
		query += " AND r.id = ?"
		args = append(args, *archiveRootID)
	}

	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "coverage", "archive", "query archived hashes", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "coverage", "archive", "scan hash", err)
		}
		set[hash] = true
	}
	return set, rows.Err()
}
