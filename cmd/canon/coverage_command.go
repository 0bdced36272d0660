package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"canon/internal/coverage"
	"canon/internal/store"
)

func newCoverageCommand(ctx *commandContext) *cobra.Command {
	var where []string
	var archive string
	var includeArchived bool
	var includeExcluded bool

	cmd := &cobra.Command{
		Use:   "coverage [path]",
		Short: "Show archive coverage statistics",
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
				node, err = restrictToSourceRoots(c, st, node, includeArchived)
				if err != nil {
					return err
				}
				node = excludeExcluded(node, includeExcluded)

				var archiveRootID *int64
				if archive != "" {
					id, err := st.ParseRootSpec(c, archive)
					if err != nil {
						return err
					}
					archiveRootID = &id
				}

				rows, err := coverage.ArchiveCoverage(c, st, node, archiveRootID)
				if err != nil {
					return err
				}

				headers := []string{"ROOT", "ROLE", "TOTAL", "HASHED", "ARCHIVED", "UNARCHIVED"}
				table := make([][]string, 0, len(rows))
				for _, r := range rows {
					table = append(table, []string{
						r.RootPath, string(r.Role),
						strconv.Itoa(r.Total), strconv.Itoa(r.Hashed),
						strconv.Itoa(r.Archived), strconv.Itoa(r.Unarchived),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderRows(headers, table, []columnAlignment{
					alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight,
				}))
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter expression (repeatable, ANDed)")
	cmd.Flags().StringVar(&archive, "archive", "", "Restrict 'archived' to one archive root (id:N or path:...)")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "Include sources from archive roots")
	cmd.Flags().BoolVar(&includeExcluded, "include-excluded", false, "Include sources carrying policy.exclude")
	return cmd
}
