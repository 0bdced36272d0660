package manifest

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"canon/internal/canonerr"
	"canon/internal/store"
)

var placeholderRE = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// dateFactKey is the content fact the pattern expander consults for
// {year}/{month}/{day}/{date}, falling back to the source's mtime when
// absent, per spec.md §4.7 "Pattern expansion".
const dateFactKey = "content.DateTimeOriginal"

// ExpandVars builds the pattern-expansion variable set for one source,
// per spec.md §6's pattern vocabulary: {filename}, {stem}, {ext}, {hash},
// {hash_short}, {id}, {year}/{month}/{day}/{date}, and one variable per
// fact key with dots replaced by underscores.
func ExpandVars(sourceID int64, absPath, hash string, facts map[string]store.Fact, mtime int64) map[string]string {
	vars := make(map[string]string)

	base := filepath.Base(absPath)
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	vars["filename"] = base
	vars["stem"] = strings.TrimSuffix(base, filepath.Ext(base))
	vars["ext"] = ext
	vars["id"] = fmt.Sprintf("%d", sourceID)

	if hash != "" {
		vars["hash"] = hash
		short := hash
		if len(short) > 8 {
			short = short[:8]
		}
		vars["hash_short"] = short
	}

	dateSource := time.Unix(mtime, 0).UTC()
	if f, ok := facts[dateFactKey]; ok && f.Value.Kind == store.ValueTime {
		dateSource = time.Unix(f.Value.Time, 0).UTC()
	}
	vars["year"] = dateSource.Format("2006")
	vars["month"] = dateSource.Format("01")
	vars["day"] = dateSource.Format("02")
	vars["date"] = dateSource.Format("2006-01-02")

	for key, f := range facts {
		safeKey := strings.ReplaceAll(key, ".", "_")
		vars[safeKey] = sanitizeValue(f.Value.String())
	}

	return vars
}

// sanitizeValue replaces path separators and NUL bytes with "_", per
// spec.md §4.7 "Pattern expansion": a fact value substituted into a
// destination path must not be able to add directory segments of its own.
func sanitizeValue(v string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")
	return r.Replace(v)
}

// Expand substitutes every {var} placeholder in pattern, failing with
// ErrUserInput if any remain unresolved (spec.md §4.7: "missing variables
// fail pattern expansion with a named error").
func Expand(pattern string, vars map[string]string) (string, error) {
	result := placeholderRE.ReplaceAllStringFunc(pattern, func(match string) string {
		key := match[1 : len(match)-1]
		if val, ok := vars[key]; ok {
			return val
		}
		return match
	})

	if placeholderRE.MatchString(result) {
		keys := make([]string, 0, len(vars))
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", canonerr.Wrap(canonerr.ErrUserInput, "manifest", "expand_pattern",
			fmt.Sprintf("unresolved placeholder in pattern %q, available: %v", pattern, keys), nil)
	}

	return result, nil
}
