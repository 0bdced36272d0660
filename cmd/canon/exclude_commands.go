package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"canon/internal/canonerr"
	"canon/internal/filter"
	"canon/internal/store"
)

func newExcludeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclude",
		Short: "Manage policy.exclude on matching sources",
	}
	cmd.AddCommand(newExcludeSetCommand(ctx))
	cmd.AddCommand(newExcludeClearCommand(ctx))
	cmd.AddCommand(newExcludeListCommand(ctx))
	return cmd
}

func newExcludeSetCommand(ctx *commandContext) *cobra.Command {
	var where []string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "set [path]",
		Short: "Mark matching sources as policy.exclude",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopePath := ""
			if len(args) == 1 {
				scopePath = args[0]
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				node, err := buildFilter(c, st, where, scopePath)
				if err != nil {
					return err
				}
				ids, err := matchedTargetIDs(c, st, node, store.TargetSource)
				if err != nil {
					return err
				}
				if dryRun {
					fmt.Fprintf(cmd.OutOrStdout(), "Would exclude %d source(s).\n", len(ids))
					return nil
				}
				now := time.Now().Unix()
				for _, id := range ids {
					if err := store.WriteFact(c, st.DB(), store.Fact{
						TargetKind: store.TargetSource,
						TargetID:   id,
						Key:        "policy.exclude",
						Value:      store.TextValue("true"),
						ObservedAt: now,
					}); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Excluded %d source(s).\n", len(ids))
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter expression (repeatable, ANDed)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be excluded without writing")
	return cmd
}

func newExcludeClearCommand(ctx *commandContext) *cobra.Command {
	var where []string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "clear [path]",
		Short: "Remove policy.exclude from matching sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopePath := ""
			if len(args) == 1 {
				scopePath = args[0]
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				node, err := buildFilter(c, st, where, scopePath)
				if err != nil {
					return err
				}
				ids, err := matchedTargetIDs(c, st, node, store.TargetSource)
				if err != nil {
					return err
				}
				if dryRun {
					fmt.Fprintf(cmd.OutOrStdout(), "Would clear exclusion on %d source(s).\n", len(ids))
					return nil
				}
				for _, id := range ids {
					if err := store.DeleteFact(c, st.DB(), store.TargetSource, id, "policy.exclude"); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared exclusion on %d source(s).\n", len(ids))
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter expression (repeatable, ANDed)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be cleared without writing")
	return cmd
}

func newExcludeListCommand(ctx *commandContext) *cobra.Command {
	var where []string

	cmd := &cobra.Command{
		Use:   "list [path]",
		Short: "List sources currently carrying policy.exclude",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopePath := ""
			if len(args) == 1 {
				scopePath = args[0]
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				node, err := buildFilter(c, st, where, scopePath)
				if err != nil {
					return err
				}
				rows, err := queryExcludedRows(c, st, node)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range rows {
					fmt.Fprintln(out, r)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%d excluded source(s)\n", len(rows))
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter expression (repeatable, ANDed)")
	return cmd
}

func queryExcludedRows(ctx context.Context, st *store.Store, node filter.Node) ([]string, error) {
	clause, args, err := compileOrAll(node)
	if err != nil {
		return nil, err
	}

	query := `SELECT r.path, s.rel_path FROM sources s
		JOIN roots r ON r.id = s.root_id
		WHERE EXISTS (
			SELECT 1 FROM facts f WHERE f.target_kind = 'source' AND f.target_id = s.id
			AND f.key = 'policy.exclude' AND f.value_text = 'true')
		AND (` + clause + `) ORDER BY r.path, s.rel_path`

	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrIO, "cmd", "exclude", "query excluded sources", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var rootPath, relPath string
		if err := rows.Scan(&rootPath, &relPath); err != nil {
			return nil, canonerr.Wrap(canonerr.ErrIO, "cmd", "exclude", "scan row", err)
		}
		path := rootPath
		if relPath != "" {
			path = rootPath + "/" + relPath
		}
		out = append(out, path)
	}
	return out, rows.Err()
}
