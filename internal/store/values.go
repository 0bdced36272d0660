package store

import (
	"strconv"
	"time"
)

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func formatUnixUTC(t int64) string {
	return time.Unix(t, 0).UTC().Format("2006-01-02T15:04:05Z")
}

// scanValue reconstructs a FactValue from the three typed columns, exactly
// one of which is non-nil by the facts table's CHECK constraint.
func scanValue(text *string, num *float64, tm *int64) FactValue {
	switch {
	case num != nil:
		return NumberValue(*num)
	case tm != nil:
		return TimeValue(*tm)
	case text != nil:
		return TextValue(*text)
	default:
		return TextValue("")
	}
}

// columns splits a FactValue back into the three nullable columns for a
// parameterized INSERT/UPDATE.
func (v FactValue) columns() (text *string, num *float64, tm *int64) {
	switch v.Kind {
	case ValueNumber:
		n := v.Num
		return nil, &n, nil
	case ValueTime:
		t := v.Time
		return nil, nil, &t
	default:
		s := v.Text
		return &s, nil, nil
	}
}
