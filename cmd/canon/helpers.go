package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"canon/internal/canonerr"
	"canon/internal/filter"
	"canon/internal/store"
)

// buildFilter parses the --where expressions and, if scopePath is non-empty,
// ANDs in a restriction to the root that contains scopePath. Scoping to an
// arbitrary subdirectory prefix is left to packages (worklist) that carry
// their own LIKE-based Subpath option; the filter language itself compares
// source.rel_path only as a whole value and has no prefix match.
func buildFilter(ctx context.Context, st *store.Store, filters []string, scopePath string) (filter.Node, error) {
	node, err := filter.ParseAll(filters)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(scopePath) == "" {
		return node, nil
	}

	abs, err := filepath.Abs(scopePath)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrUserInput, "cmd", "scope", fmt.Sprintf("resolve path %q", scopePath), err)
	}
	rootID, err := resolveRootScope(ctx, st, abs)
	if err != nil {
		return nil, err
	}

	scope := filter.Compare{Key: "source.root_id", Op: "=", Value: filter.Value{Kind: filter.ValueNumber, Num: float64(rootID)}}
	if node == nil {
		return scope, nil
	}
	return filter.And{Left: scope, Right: node}, nil
}

// resolveRootScope finds the registered root containing (or equal to) abs.
func resolveRootScope(ctx context.Context, st *store.Store, abs string) (int64, error) {
	roots, err := st.ListRoots(ctx, "")
	if err != nil {
		return 0, err
	}
	for _, r := range roots {
		clean := filepath.Clean(r.Path)
		if abs == clean || strings.HasPrefix(abs, clean+string(filepath.Separator)) {
			return r.ID, nil
		}
	}
	return 0, canonerr.Wrap(canonerr.ErrUserInput, "cmd", "scope", fmt.Sprintf("%s is not inside any registered root", abs), nil)
}

// restrictToSourceRoots ANDs in a restriction to sources on source-role
// roots unless includeArchived is set. The AST has no IN node (the parser
// lowers an IN list to an Or-chain too), so the restriction is an Or-chain
// over the matching root ids.
func restrictToSourceRoots(ctx context.Context, st *store.Store, node filter.Node, includeArchived bool) (filter.Node, error) {
	if includeArchived {
		return node, nil
	}
	roots, err := st.ListRoots(ctx, store.RoleSource)
	if err != nil {
		return nil, err
	}
	var restriction filter.Node = filter.Compare{Key: "source.root_id", Op: "=", Value: filter.Value{Kind: filter.ValueNumber, Num: -1}}
	for i, r := range roots {
		cmp := filter.Compare{Key: "source.root_id", Op: "=", Value: filter.Value{Kind: filter.ValueNumber, Num: float64(r.ID)}}
		if i == 0 {
			restriction = cmp
		} else {
			restriction = filter.Or{Left: restriction, Right: cmp}
		}
	}
	if node == nil {
		return restriction, nil
	}
	return filter.And{Left: restriction, Right: node}, nil
}

// excludeExcluded ANDs in a restriction against sources (or their linked
// object) carrying policy.exclude = true, unless includeExcluded is set.
func excludeExcluded(node filter.Node, includeExcluded bool) filter.Node {
	if includeExcluded {
		return node
	}
	notExcluded := filter.Not{Inner: filter.Compare{Key: "policy.exclude", Op: "=", Value: filter.Value{Kind: filter.ValueString, Text: "true"}}}
	if node == nil {
		return notExcluded
	}
	return filter.And{Left: notExcluded, Right: node}
}

func formatBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}

func formatFraction(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}

func parseRole(role string) (store.Role, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", "source":
		return store.RoleSource, nil
	case "archive":
		return store.RoleArchive, nil
	default:
		return "", canonerr.Wrap(canonerr.ErrUserInput, "cmd", "role", fmt.Sprintf("unknown role %q, expected source or archive", role), nil)
	}
}
