package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"canon/internal/canonerr"
	"canon/internal/filter"
	"canon/internal/store"
)

type lsRow struct {
	path     string
	size     int64
	objectID *int64
	hash     *string
}

func newLsCommand(ctx *commandContext) *cobra.Command {
	var where []string
	var archived string
	var unarchived bool
	var unhashed bool
	var includeArchived bool
	var includeExcluded bool
	var long bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List sources matching a filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archivedSet := cmd.Flags().Changed("archived")
			if archivedSet && archived == "" {
				archived = "list"
			}
			scopePath := ""
			if len(args) == 1 {
				scopePath = args[0]
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				node, err := buildFilter(c, st, where, scopePath)
				if err != nil {
					return err
				}

				rows, err := queryLsRows(c, st, node, includeArchived, includeExcluded)
				if err != nil {
					return err
				}

				var archivedHashes map[string]bool
				if archivedSet || unarchived {
					archivedHashes, err = loadArchivedHashes(c, st)
					if err != nil {
						return err
					}
				}

				out := cmd.OutOrStdout()
				printPath := func(r lsRow) {
					if long {
						fmt.Fprintf(out, "%s\t%s\n", r.path, formatBytes(r.size))
						return
					}
					fmt.Fprintln(out, r.path)
				}
				shown := 0
				unhashedCount := 0
				for _, r := range rows {
					switch {
					case archivedSet:
						if r.hash == nil {
							unhashedCount++
							continue
						}
						if archived == "show" {
							paths, err := archivePathsFor(c, st, *r.objectID)
							if err != nil {
								return err
							}
							for _, ap := range paths {
								fmt.Fprintf(out, "%s\t%s\n", r.path, ap)
								shown++
							}
							continue
						}
						if archivedHashes[*r.hash] {
							printPath(r)
							shown++
						}
					case unarchived:
						if r.hash == nil {
							unhashedCount++
							continue
						}
						if !archivedHashes[*r.hash] {
							printPath(r)
							shown++
						}
					case unhashed:
						if r.hash == nil {
							printPath(r)
							shown++
						}
					default:
						printPath(r)
						shown++
					}
				}

				footer := fmt.Sprintf("%d sources", shown)
				if (archivedSet || unarchived) && unhashedCount > 0 {
					footer += fmt.Sprintf(" (%d unhashed skipped, use --unhashed to see)", unhashedCount)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), footer)
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter expression (repeatable, ANDed)")
	cmd.Flags().StringVar(&archived, "archived", "", "Only show archived sources ('show' also lists archive paths)")
	cmd.Flags().Lookup("archived").NoOptDefVal = "list"
	cmd.Flags().BoolVar(&unarchived, "unarchived", false, "Only show hashed sources with no archive copy")
	cmd.Flags().BoolVar(&unhashed, "unhashed", false, "Only show sources with no content hash yet")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "Include sources from archive roots")
	cmd.Flags().BoolVar(&includeExcluded, "include-excluded", false, "Include sources carrying policy.exclude")
	cmd.Flags().BoolVar(&long, "long", false, "Also print each source's size (humanized)")
	cmd.MarkFlagsMutuallyExclusive("archived", "unarchived", "unhashed")
	return cmd
}

// queryLsRows resolves every source matching node (plus the default
// role/exclusion restrictions) to its display path and content identity.
func queryLsRows(ctx context.Context, st *store.Store, node filter.Node, includeArchived, includeExcluded bool) ([]lsRow, error) {
	query := `SELECT r.path, s.rel_path, s.size, s.object_id, o.hash
		FROM sources s
		JOIN roots r ON r.id = s.root_id
		LEFT JOIN objects o ON o.id = s.object_id
		WHERE 1=1`
	var args []any

	if !includeArchived {
		query += " AND r.role = ?"
		args = append(args, string(store.RoleSource))
	}
	if !includeExcluded {
		query += ` AND NOT EXISTS (
			SELECT 1 FROM facts f WHERE f.target_kind = 'source' AND f.target_id = s.id
			AND f.key = 'policy.exclude' AND f.value_text = 'true')`
	}
	if node != nil {
		clause, clauseArgs, err := filter.Compile(node)
		if err != nil {
			return nil, err
		}
		query += " AND (" + clause + ")"
		args = append(args, clauseArgs...)
	}
	query += " ORDER BY r.path, s.rel_path"

	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "cmd", "ls", "query sources", err)
	}
	defer rows.Close()

	var out []lsRow
	for rows.Next() {
		var rootPath, relPath string
		var size int64
		var objectID *int64
		var hash *string
		if err := rows.Scan(&rootPath, &relPath, &size, &objectID, &hash); err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "cmd", "ls", "scan row", err)
		}
		path := rootPath
		if relPath != "" {
			path = rootPath + "/" + relPath
		}
		out = append(out, lsRow{path: path, size: size, objectID: objectID, hash: hash})
	}
	return out, rows.Err()
}

// loadArchivedHashes returns the set of content hashes present on any
// source belonging to an archive-role root.
func loadArchivedHashes(ctx context.Context, st *store.Store) (map[string]bool, error) {
	rows, err := st.DB().QueryContext(ctx, `
		SELECT DISTINCT o.hash FROM sources s
		JOIN roots r ON r.id = s.root_id
		JOIN objects o ON o.id = s.object_id
		WHERE r.role = 'archive'`)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "cmd", "ls", "query archived hashes", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "cmd", "ls", "scan hash", err)
		}
		set[hash] = true
	}
	return set, rows.Err()
}

// archivePathsFor lists every archive-root path that holds the given object.
func archivePathsFor(ctx context.Context, st *store.Store, objectID int64) ([]string, error) {
	rows, err := st.DB().QueryContext(ctx, `
		SELECT r.path, s.rel_path FROM sources s
		JOIN roots r ON r.id = s.root_id
		WHERE s.object_id = ? AND r.role = 'archive'
		ORDER BY r.path, s.rel_path`, objectID)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "cmd", "ls", "query archive paths", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var rootPath, relPath string
		if err := rows.Scan(&rootPath, &relPath); err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "cmd", "ls", "scan archive path", err)
		}
		path := rootPath
		if relPath != "" {
			path = rootPath + "/" + relPath
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}
