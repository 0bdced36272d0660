package filter

import (
	"fmt"
	"regexp"
	"strings"
)

var keyShapeRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

// builtinSourceKeys are the source.* keys the scanner derives directly
// from the sources table, per spec.md §4.5 "Built-in source.* keys are
// included". The coverage overview shows size/mtime/ext/basis_rev/
// seen_rev/object_id by default; root_id/rel_path/device/inode are the
// "derived/verbose" keys spec.md says `--all` additionally includes.
var builtinSourceKeys = map[string]bool{
	"source.size":      true,
	"source.mtime":     true,
	"source.ext":       true,
	"source.root_id":   true,
	"source.rel_path":  true,
	"source.basis_rev": true,
	"source.seen_rev":  true,
	"source.device":    true,
	"source.inode":     true,
	"source.object_id": true,
}

// validateKey rejects malformed keys and unknown source.* builtins at
// parse time, per spec.md §4.1 "Errors": pre-validate key namespaces to
// give good error messages rather than deferring to a failed query.
func validateKey(key string) error {
	if !keyShapeRE.MatchString(key) {
		return fmt.Errorf("malformed fact key %q", key)
	}
	if strings.HasPrefix(key, "source.") && !builtinSourceKeys[key] {
		return fmt.Errorf("unknown built-in key %q", key)
	}
	return nil
}
