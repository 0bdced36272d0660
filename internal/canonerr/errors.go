package canonerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUserInput marks a malformed CLI argument, filter expression, or
	// manifest file supplied by the caller.
	ErrUserInput = errors.New("invalid input")
	// ErrStale marks a fact import whose basis_rev predates the source's
	// last recorded scan. Reported per-record, never a process exit code.
	ErrStale = errors.New("stale basis revision")
	// ErrProtectedNamespace marks an attempt to import or modify a
	// source.* or policy.* fact through a channel that may only read it.
	// Reported per-record, never a process exit code.
	ErrProtectedNamespace = errors.New("protected fact namespace")
	// ErrPreflight marks an apply pre-flight failure: a destination
	// collision, an existing-destination conflict, or a manifest entry
	// whose source is missing or excluded.
	ErrPreflight = errors.New("preflight failure")
	// ErrPartialApply marks an apply run in which pre-flight passed but
	// at least one entry failed during materialization.
	ErrPartialApply = errors.New("partial apply failure")
	// ErrStoreLocked marks a store that could not be opened or queried
	// because it is locked or corrupt.
	ErrStoreLocked = errors.New("store locked or corrupt")
	// ErrIO marks a filesystem operation that failed for reasons outside
	// the caller's control (permissions, device errors). Individual file
	// errors during scan/apply are reported and skipped, not fatal.
	ErrIO = errors.New("io failure")
	// ErrConsistency marks a database state that violates an invariant
	// the relational engine is supposed to guarantee (e.g. a hash already
	// linked to a different object). Fatal for the record in question.
	ErrConsistency = errors.New("consistency violation")
)

// Wrap builds an error message that includes operation context while tagging
// it with the provided marker for later classification by ExitCode. The
// marker should be one of the exported sentinels above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ExitCode maps a returned error to the process exit code Canon's CLI uses,
// per spec §6: 0 success, 2 usage/parse error, 3 pre-flight failure, 4
// partial apply failure, 5 store locked or corrupt.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUserInput):
		return 2
	case errors.Is(err, ErrPreflight):
		return 3
	case errors.Is(err, ErrPartialApply):
		return 4
	case errors.Is(err, ErrStoreLocked):
		return 5
	default:
		return 1
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "operation failed"
	}
	return strings.Join(parts, ": ")
}
