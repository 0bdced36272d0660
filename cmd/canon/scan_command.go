package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"canon/internal/scanner"
	"canon/internal/store"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "scan <path> [path...]",
		Short: "Scan directories and reconcile them into the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				stats, err := scanner.ScanRoots(c, st, logger, args, r)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "source", "Role for new roots: 'source' or 'archive'")
	return cmd
}
