package importer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"canon/internal/canonerr"
)

// Record is one line of a fact-import stream, the shape spec.md §6
// "Fact import record" defines.
type Record struct {
	SourceID   int64          `json:"source_id"`
	BasisRev   int64          `json:"basis_rev"`
	ObservedAt *int64         `json:"observed_at,omitempty"`
	Facts      map[string]any `json:"facts"`
}

func decodeRecord(line []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return Record{}, canonerr.Wrap(canonerr.ErrUserInput, "importer", "decode", "malformed fact import record", err)
	}
	return rec, nil
}

type factValueKind int

const (
	factKindText factValueKind = iota
	factKindNumber
)

// scalarToFact converts one already-decoded JSON scalar into a store
// fact value, per spec.md §6: "A scalar is a JSON string, number, or
// boolean; booleans are stored as the strings "true"/"false"."
func scalarToFact(v any) (factValueKind, string, float64, error) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, "", 0, canonerr.Wrap(canonerr.ErrUserInput, "importer", "decode",
				fmt.Sprintf("fact value %q is not a valid number", val.String()), nil)
		}
		return factKindNumber, "", f, nil
	case string:
		return factKindText, val, 0, nil
	case bool:
		if val {
			return factKindText, "true", 0, nil
		}
		return factKindText, "false", 0, nil
	default:
		return 0, "", 0, canonerr.Wrap(canonerr.ErrUserInput, "importer", "decode",
			fmt.Sprintf("fact value of type %T is not a scalar", v), nil)
	}
}
