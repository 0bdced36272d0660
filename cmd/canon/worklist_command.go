package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"canon/internal/filter"
	"canon/internal/store"
	"canon/internal/worklist"
)

func newWorklistCommand(ctx *commandContext) *cobra.Command {
	var where []string
	var includeArchived bool
	var includeExcluded bool

	cmd := &cobra.Command{
		Use:   "worklist [path]",
		Short: "Emit a JSONL worklist of sources matching a filter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := filter.ParseAll(where)
			if err != nil {
				return err
			}
			subpath := ""
			if len(args) == 1 {
				subpath = args[0]
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				_, err := worklist.Produce(c, st, cmd.OutOrStdout(), node, worklist.Options{
					Subpath:         subpath,
					IncludeArchived: includeArchived,
					IncludeExcluded: includeExcluded,
				})
				return err
			})
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter expression (repeatable, ANDed)")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "Include sources from archive roots")
	cmd.Flags().BoolVar(&includeExcluded, "include-excluded", false, "Include sources carrying policy.exclude")
	return cmd
}
