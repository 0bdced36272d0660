package importer

import "strings"

// isProtected reports whether a raw (pre-normalization) key already names
// a namespace external importers may not write, per spec.md §4.4 step 3.
func isProtected(key string) bool {
	return strings.HasPrefix(key, "source.") || strings.HasPrefix(key, "policy.")
}

// normalizeKey applies spec.md §4.4 step 4: tolerate an underscore used
// as a separator by rewriting it to a dot, then prefix any key still
// lacking a recognized namespace with "content.". A bare "hash.sha256"
// becomes "content.hash.sha256"; "content.Make" is untouched.
func normalizeKey(key string) string {
	key = strings.ReplaceAll(key, "_", ".")
	if strings.HasPrefix(key, "source.") || strings.HasPrefix(key, "content.") || strings.HasPrefix(key, "policy.") {
		return key
	}
	return "content." + key
}
