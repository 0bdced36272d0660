package importer

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"canon/internal/canonerr"
	"canon/internal/logging"
	"canon/internal/store"
)

const hashKey = "content.hash.sha256"

// Outcome classifies how a single import record was handled.
type Outcome int

const (
	OutcomeImported Outcome = iota
	OutcomeStaleSkipped
	OutcomeArchivedSkipped
	OutcomeRejected
	OutcomeSourceNotFound
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeImported:
		return "imported"
	case OutcomeStaleSkipped:
		return "stale"
	case OutcomeArchivedSkipped:
		return "archived"
	case OutcomeRejected:
		return "rejected"
	case OutcomeSourceNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// Result reports the disposition of a single record, for the per-item
// error channel spec.md §7 "Policy" requires of stream commands.
type Result struct {
	Line     int
	SourceID int64
	Outcome  Outcome
	Err      error
}

// Summary totals the per-record outcomes of one Import call.
type Summary struct {
	Imported int
	Stale    int
	Archived int
	Rejected int
	NotFound int
	Errored  int
}

func (s *Summary) record(o Outcome) {
	switch o {
	case OutcomeImported:
		s.Imported++
	case OutcomeStaleSkipped:
		s.Stale++
	case OutcomeArchivedSkipped:
		s.Archived++
	case OutcomeRejected:
		s.Rejected++
	case OutcomeSourceNotFound:
		s.NotFound++
	default:
		s.Errored++
	}
}

// Options controls import behavior not carried by the record itself.
type Options struct {
	// AllowArchived permits importing facts for sources whose root has
	// role "archive". Default config value is
	// config.Manifest.AllowArchivedDefault; a CLI flag may override it.
	AllowArchived bool
}

// Import reads one fact-import record per line from r and applies each in
// its own transaction, per spec.md §4.4. It never stops on a per-record
// failure; onResult (optional) receives the disposition of every record in
// stream order, which is how callers feed the error channel spec.md §7
// describes. The returned Summary totals all dispositions.
func Import(ctx context.Context, st *store.Store, r io.Reader, opts Options, logger *slog.Logger, onResult func(Result)) (Summary, error) {
	logger = logging.NewComponentLogger(logger, "importer")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var summary Summary
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		result := importOne(ctx, st, line, raw, opts, logger)
		summary.record(result.Outcome)
		if onResult != nil {
			onResult(result)
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, canonerr.Wrap(canonerr.ErrIO, "importer", "import", "read stream", err)
	}
	return summary, nil
}

func importOne(ctx context.Context, st *store.Store, line int, raw []byte, opts Options, logger *slog.Logger) Result {
	rec, err := decodeRecord(raw)
	if err != nil {
		return Result{Line: line, Outcome: OutcomeError, Err: err}
	}
	result := Result{Line: line, SourceID: rec.SourceID}

	src, err := st.GetSource(ctx, rec.SourceID)
	if err != nil {
		result.Outcome = OutcomeError
		result.Err = err
		return result
	}
	if src == nil {
		result.Outcome = OutcomeSourceNotFound
		result.Err = canonerr.Wrap(canonerr.ErrUserInput, "importer", "lookup",
			fmt.Sprintf("source %d does not exist", rec.SourceID), nil)
		logger.Warn("fact import: source not found", logging.Int64("source_id", rec.SourceID), logging.Int64("line", int64(line)))
		return result
	}
	if src.BasisRev != rec.BasisRev {
		result.Outcome = OutcomeStaleSkipped
		result.Err = canonerr.Wrap(canonerr.ErrStale, "importer", "basis_rev",
			fmt.Sprintf("source %d: record basis_rev %d, current %d", rec.SourceID, rec.BasisRev, src.BasisRev), nil)
		return result
	}

	root, err := st.GetRoot(ctx, src.RootID)
	if err != nil {
		result.Outcome = OutcomeError
		result.Err = err
		return result
	}
	if root != nil && root.Role == store.RoleArchive && !opts.AllowArchived {
		result.Outcome = OutcomeArchivedSkipped
		return result
	}

	for key := range rec.Facts {
		if isProtected(key) || isProtected(normalizeKey(key)) {
			result.Outcome = OutcomeRejected
			result.Err = canonerr.Wrap(canonerr.ErrProtectedNamespace, "importer", "validate",
				fmt.Sprintf("source %d: key %q is in a protected namespace", rec.SourceID, key), nil)
			return result
		}
	}

	observedAt := time.Now().Unix()
	if rec.ObservedAt != nil {
		observedAt = *rec.ObservedAt
	}

	normalized := make(map[string]any, len(rec.Facts))
	for key, val := range rec.Facts {
		normalized[normalizeKey(key)] = val
	}

	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		return applyFacts(ctx, tx, st, src, normalized, observedAt)
	})
	if err != nil {
		if errors.Is(err, canonerr.ErrConsistency) {
			result.Outcome = OutcomeRejected
		} else {
			result.Outcome = OutcomeError
		}
		result.Err = err
		return result
	}

	result.Outcome = OutcomeImported
	return result
}

// applyFacts performs spec.md §4.4 steps 5-8 inside the caller's
// transaction: resolve-or-create the object on a hash fact, promote
// remaining content.* facts through the one funnel, per §9's "Promotion of
// content facts" note.
func applyFacts(ctx context.Context, tx *sql.Tx, st *store.Store, src *store.Source, facts map[string]any, observedAt int64) error {
	working := *src

	if hashVal, ok := facts[hashKey]; ok {
		hashStr, isStr := hashVal.(string)
		if !isStr {
			return canonerr.Wrap(canonerr.ErrUserInput, "importer", "hash",
				fmt.Sprintf("source %d: %s must be a string", src.ID, hashKey), nil)
		}
		obj, _, err := st.GetOrCreateObject(ctx, strings.ToLower(hashStr))
		if err != nil {
			return err
		}
		if _, err := store.LinkAndPromote(ctx, tx, working, obj.ID); err != nil {
			return err
		}
		working.ObjectID = &obj.ID
		delete(facts, hashKey)
	}

	for key, val := range facts {
		kind, text, num, err := scalarToFact(val)
		if err != nil {
			return err
		}
		var fv store.FactValue
		if kind == factKindNumber {
			fv = store.NumberValue(num)
		} else {
			fv = store.TextValue(text)
		}
		if err := store.AttachContentFact(ctx, tx, working, key, fv, working.BasisRev, observedAt); err != nil {
			return err
		}
	}
	return nil
}
