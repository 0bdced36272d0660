package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"canon/internal/canonerr"
	"canon/internal/coverage"
	"canon/internal/filter"
	"canon/internal/store"
)

func newFactsCommand(ctx *commandContext) *cobra.Command {
	var where []string
	var limit int
	var all bool
	var includeArchived bool
	var includeExcluded bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "facts [key] [path]",
		Short: "Show fact coverage and value distribution",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key, scopePath string
			switch len(args) {
			case 2:
				key, scopePath = args[0], args[1]
			case 1:
				key = args[0]
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				node, err := buildFilter(c, st, where, scopePath)
				if err != nil {
					return err
				}
				node, err = restrictToSourceRoots(c, st, node, includeArchived)
				if err != nil {
					return err
				}
				node = excludeExcluded(node, includeExcluded)

				if key == "" {
					results, total, err := coverage.Overview(c, st, node, all)
					if err != nil {
						return err
					}
					if asJSON {
						type jsonKey struct {
							Key      string  `json:"key"`
							Count    int     `json:"count"`
							Total    int     `json:"total"`
							Fraction float64 `json:"fraction"`
						}
						keys := make([]jsonKey, 0, len(results))
						for _, r := range results {
							keys = append(keys, jsonKey{Key: r.Key, Count: r.Count, Total: r.Total, Fraction: r.Fraction()})
						}
						return writeJSON(cmd, map[string]any{"keys": keys, "total": total})
					}
					return renderOverview(cmd, results, total)
				}

				if !cmd.Flags().Changed("limit") {
					cfg, err := ctx.ensureConfig()
					if err != nil {
						return err
					}
					limit = cfg.Coverage.DefaultKeyLimit
				}
				dist, total, err := coverage.KeyDetail(c, st, node, key, limit)
				if err != nil {
					return err
				}
				if asJSON {
					type jsonValue struct {
						Value string `json:"value"`
						Count int    `json:"count"`
					}
					values := make([]jsonValue, 0, len(dist))
					for _, v := range dist {
						values = append(values, jsonValue{Value: v.Value, Count: v.Count})
					}
					return writeJSON(cmd, map[string]any{"key": key, "values": values, "total": total})
				}
				return renderKeyDetail(cmd, key, dist, total)
			})
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter expression (repeatable, ANDed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of values to show (0 for unlimited)")
	cmd.Flags().BoolVar(&all, "all", false, "Show all built-in facts, including hidden ones")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "Include sources from archive roots")
	cmd.Flags().BoolVar(&includeExcluded, "include-excluded", false, "Include sources carrying policy.exclude")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")

	cmd.AddCommand(newFactsDeleteCommand(ctx))
	cmd.AddCommand(newFactsPruneCommand(ctx))
	return cmd
}

func renderOverview(cmd *cobra.Command, results []coverage.KeyCoverage, total int) error {
	if total == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No sources match the given filters.")
		return nil
	}
	headers := []string{"KEY", "COUNT", "TOTAL", "COVERAGE"}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.Key, strconv.Itoa(r.Count), strconv.Itoa(r.Total), formatFraction(r.Fraction())})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderRows(headers, rows, []columnAlignment{alignLeft, alignRight, alignRight, alignRight}))
	return nil
}

func renderKeyDetail(cmd *cobra.Command, key string, dist []coverage.ValueCount, total int) error {
	if total == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No sources match the given filters.")
		return nil
	}
	headers := []string{"VALUE", "COUNT"}
	rows := make([][]string, 0, len(dist))
	for _, v := range dist {
		rows = append(rows, []string{v.Value, strconv.Itoa(v.Count)})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d sources matched)\n", key, total)
	fmt.Fprint(cmd.OutOrStdout(), renderRows(headers, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}

func newFactsDeleteCommand(ctx *commandContext) *cobra.Command {
	var where []string
	var on string
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <key> [path]",
		Short: "Delete a fact key from matching sources or objects",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			scopePath := ""
			if len(args) == 2 {
				scopePath = args[1]
			}
			kind, err := parseFactTargetKind(on)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				node, err := buildFilter(c, st, where, scopePath)
				if err != nil {
					return err
				}
				targetIDs, err := matchedTargetIDs(c, st, node, kind)
				if err != nil {
					return err
				}
				if len(targetIDs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No matching targets.")
					return nil
				}
				if !yes {
					fmt.Fprintf(cmd.OutOrStdout(), "Would delete %q from %d %s(s). Re-run with --yes to apply.\n", key, len(targetIDs), kind)
					return nil
				}
				deleted := 0
				for _, id := range targetIDs {
					if err := store.DeleteFact(c, st.DB(), kind, id, key); err != nil {
						return err
					}
					deleted++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q from %d %s(s).\n", key, deleted, kind)
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter expression (repeatable, ANDed)")
	cmd.Flags().StringVar(&on, "on", "", "Entity type: 'source' or 'object'")
	cmd.Flags().BoolVar(&yes, "yes", false, "Execute the deletion (default is dry-run)")
	_ = cmd.MarkFlagRequired("on")
	return cmd
}

func newFactsPruneCommand(ctx *commandContext) *cobra.Command {
	var stale bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune stale facts whose observed revision no longer matches the source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !stale {
				return canonerr.Wrap(canonerr.ErrUserInput, "cmd", "facts-prune", "--stale is required", nil)
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				rows, err := st.DB().QueryContext(c, `
					SELECT f.target_id, f.key FROM facts f
					JOIN sources s ON s.id = f.target_id
					WHERE f.target_kind = 'source' AND f.observed_basis_rev IS NOT NULL
					AND f.observed_basis_rev != s.basis_rev`)
				if err != nil {
					return canonerr.Wrap(canonerr.ErrIO, "cmd", "facts-prune", "query stale facts", err)
				}
				type staleFact struct {
					targetID int64
					key      string
				}
				var stales []staleFact
				for rows.Next() {
					var sf staleFact
					if err := rows.Scan(&sf.targetID, &sf.key); err != nil {
						rows.Close()
						return canonerr.Wrap(canonerr.ErrIO, "cmd", "facts-prune", "scan row", err)
					}
					stales = append(stales, sf)
				}
				rows.Close()
				if err := rows.Err(); err != nil {
					return canonerr.Wrap(canonerr.ErrIO, "cmd", "facts-prune", "iterate rows", err)
				}

				if len(stales) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stale facts.")
					return nil
				}
				if !yes {
					fmt.Fprintf(cmd.OutOrStdout(), "Would prune %d stale fact(s). Re-run with --yes to apply.\n", len(stales))
					return nil
				}
				for _, sf := range stales {
					if err := store.DeleteFact(c, st.DB(), store.TargetSource, sf.targetID, sf.key); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d stale fact(s).\n", len(stales))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&stale, "stale", false, "Delete facts with mismatched observed_basis_rev")
	cmd.Flags().BoolVar(&yes, "yes", false, "Execute the prune (default is dry-run)")
	return cmd
}

func parseFactTargetKind(on string) (store.TargetKind, error) {
	switch on {
	case "source":
		return store.TargetSource, nil
	case "object":
		return store.TargetObject, nil
	default:
		return "", canonerr.Wrap(canonerr.ErrUserInput, "cmd", "facts-delete", fmt.Sprintf("--on must be 'source' or 'object', got %q", on), nil)
	}
}

// matchedTargetIDs resolves the matched source set to the fact target ids
// --on selects: source ids directly, or the distinct linked object ids.
func matchedTargetIDs(ctx context.Context, st *store.Store, node filter.Node, kind store.TargetKind) ([]int64, error) {
	clause, args, err := compileOrAll(node)
	if err != nil {
		return nil, err
	}

	query := "SELECT DISTINCT s.id FROM sources s WHERE " + clause
	if kind == store.TargetObject {
		query = "SELECT DISTINCT s.object_id FROM sources s WHERE s.object_id IS NOT NULL AND (" + clause + ")"
	}

	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "cmd", "facts", "query target ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "cmd", "facts", "scan target id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func compileOrAll(node filter.Node) (string, []any, error) {
	if node == nil {
		return "1=1", nil, nil
	}
	return filter.Compile(node)
}
