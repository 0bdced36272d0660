package store

import (
	"context"
	"database/sql"

	"canon/internal/canonerr"
)

// NextGeneration returns a fresh scan generation number: one greater than
// the highest seen_rev recorded anywhere in the store. A single scan
// invocation (covering one or more root paths, spec.md §4.2) uses one
// generation number for all of them, so seen_rev comparisons stay globally
// monotonic across roots and across separate scan invocations.
func (s *Store) NextGeneration(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(seen_rev) FROM sources").Scan(&max)
	if err != nil {
		return 0, canonerr.Wrap(canonerr.ErrIO, "store", "generation", "read max seen_rev", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}
