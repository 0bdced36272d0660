package store

import (
	"context"
	"database/sql"
	"strings"

	"canon/internal/canonerr"
)

// sqlExecer is satisfied by both *sql.DB and *sql.Tx, letting the read
// helpers below run either inside a caller's transaction or standalone.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WriteFact upserts a single fact row, last-writer-wins on conflict. This
// is the only function that inserts or updates facts rows; every
// fact-writing code path (importer promotion, policy.exclude) funnels
// through it, per the spec's "Pattern re-architecture" note. source.* keys
// are never stored as facts.
func WriteFact(ctx context.Context, exec sqlExecer, f Fact) error {
	text, num, tm := f.Value.columns()
	_, err := exec.ExecContext(ctx, `
		INSERT INTO facts (target_kind, target_id, key, value_text, value_num, value_time, observed_basis_rev, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (target_kind, target_id, key) DO UPDATE SET
			value_text = excluded.value_text,
			value_num = excluded.value_num,
			value_time = excluded.value_time,
			observed_basis_rev = excluded.observed_basis_rev,
			observed_at = excluded.observed_at`,
		string(f.TargetKind), f.TargetID, f.Key, text, num, tm, f.ObservedBasisRev, f.ObservedAt)
	if err != nil {
		return canonerr.Wrap(canonerr.ErrIO, "store", "facts", "write fact", err)
	}
	return nil
}

// DeleteFact removes a single fact.
func DeleteFact(ctx context.Context, exec sqlExecer, kind TargetKind, targetID int64, key string) error {
	_, err := exec.ExecContext(ctx, "DELETE FROM facts WHERE target_kind = ? AND target_id = ? AND key = ?",
		string(kind), targetID, key)
	if err != nil {
		return canonerr.Wrap(canonerr.ErrIO, "store", "facts", "delete fact", err)
	}
	return nil
}

// GetFact returns a single fact, or nil if absent.
func GetFact(ctx context.Context, exec sqlExecer, kind TargetKind, targetID int64, key string) (*Fact, error) {
	row := exec.QueryRowContext(ctx,
		"SELECT value_text, value_num, value_time, observed_basis_rev, observed_at FROM facts WHERE target_kind = ? AND target_id = ? AND key = ?",
		string(kind), targetID, key)
	var text sql.NullString
	var num sql.NullFloat64
	var tm sql.NullInt64
	var f Fact
	var obr sql.NullInt64
	if err := row.Scan(&text, &num, &tm, &obr, &f.ObservedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, canonerr.Wrap(canonerr.ErrIO, "store", "facts", "get fact", err)
	}
	f.TargetKind = kind
	f.TargetID = targetID
	f.Key = key
	f.Value = scanValue(nullString(text), nullFloat(num), nullInt(tm))
	if obr.Valid {
		v := obr.Int64
		f.ObservedBasisRev = &v
	}
	return &f, nil
}

// ListFacts returns every fact attached to a single target.
func ListFacts(ctx context.Context, exec sqlExecer, kind TargetKind, targetID int64) ([]Fact, error) {
	rows, err := exec.QueryContext(ctx,
		"SELECT key, value_text, value_num, value_time, observed_basis_rev, observed_at FROM facts WHERE target_kind = ? AND target_id = ?",
		string(kind), targetID)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "store", "facts", "list facts", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		var text sql.NullString
		var num sql.NullFloat64
		var tm sql.NullInt64
		var obr sql.NullInt64
		if err := rows.Scan(&f.Key, &text, &num, &tm, &obr, &f.ObservedAt); err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "store", "facts", "scan fact", err)
		}
		f.TargetKind = kind
		f.TargetID = targetID
		f.Value = scanValue(nullString(text), nullFloat(num), nullInt(tm))
		if obr.Valid {
			v := obr.Int64
			f.ObservedBasisRev = &v
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// EffectiveFacts returns the facts visible for a source: its own facts
// plus, when linked, its object's facts — the join the filter language and
// coverage reports both compile against (spec §4.1 "key?" semantics).
func EffectiveFacts(ctx context.Context, exec sqlExecer, src Source) (map[string]Fact, error) {
	out := make(map[string]Fact)
	if src.ObjectID != nil {
		objectFacts, err := ListFacts(ctx, exec, TargetObject, *src.ObjectID)
		if err != nil {
			return nil, err
		}
		for _, f := range objectFacts {
			out[f.Key] = f
		}
	}
	sourceFacts, err := ListFacts(ctx, exec, TargetSource, src.ID)
	if err != nil {
		return nil, err
	}
	for _, f := range sourceFacts {
		out[f.Key] = f
	}
	return out, nil
}

// AttachContentFact is the sole writer of content.* facts (spec §9,
// "Promotion of content facts"): it consults the source's object linkage
// once and writes to the correct table. It does not perform the one-shot
// migration of pre-existing source-scoped facts — that happens once, at
// the moment of linkage, in LinkAndPromote.
func AttachContentFact(ctx context.Context, tx *sql.Tx, src Source, key string, value FactValue, basisRev, observedAt int64) error {
	if src.ObjectID != nil {
		return WriteFact(ctx, tx, Fact{
			TargetKind: TargetObject,
			TargetID:   *src.ObjectID,
			Key:        key,
			Value:      value,
			ObservedBasisRev: &basisRev,
			ObservedAt: observedAt,
		})
	}
	rev := basisRev
	return WriteFact(ctx, tx, Fact{
		TargetKind:       TargetSource,
		TargetID:         src.ID,
		Key:              key,
		Value:            value,
		ObservedBasisRev: &rev,
		ObservedAt:       observedAt,
	})
}

// LinkAndPromote links a source to an object (resolve-or-create already
// done by the caller) and migrates any content.* facts already sitting on
// the source onto the object, one-shot, in the same transaction (spec
// §4.4 step 5-6). Returns the number of facts migrated. If the source is
// already linked to a different object, returns ErrConsistency.
func LinkAndPromote(ctx context.Context, tx *sql.Tx, src Source, objectID int64) (int, error) {
	if src.ObjectID != nil {
		if *src.ObjectID == objectID {
			return 0, nil
		}
		return 0, canonerr.Wrap(canonerr.ErrConsistency, "store", "facts",
			"source already linked to a different object", nil)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE sources SET object_id = ? WHERE id = ?", objectID, src.ID); err != nil {
		return 0, canonerr.Wrap(canonerr.ErrIO, "store", "facts", "link object", err)
	}

	sourceFacts, err := ListFacts(ctx, tx, TargetSource, src.ID)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, f := range sourceFacts {
		if !strings.HasPrefix(f.Key, "content.") {
			continue
		}
		if err := WriteFact(ctx, tx, Fact{
			TargetKind:       TargetObject,
			TargetID:         objectID,
			Key:              f.Key,
			Value:            f.Value,
			ObservedBasisRev: f.ObservedBasisRev,
			ObservedAt:       f.ObservedAt,
		}); err != nil {
			return promoted, err
		}
		if err := DeleteFact(ctx, tx, TargetSource, src.ID, f.Key); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
