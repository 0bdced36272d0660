package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"canon/internal/apply"
	"canon/internal/store"
)

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var allowCrossArchiveDuplicates bool
	var roots []string
	var rename bool
	var move bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "apply <manifest>",
		Short: "Apply a manifest to copy/move/rename files into the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if move && !yes {
				return fmt.Errorf("--move requires --yes")
			}
			mode := apply.Copy
			switch {
			case rename:
				mode = apply.Rename
			case move:
				mode = apply.Move
			}

			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}

				report, runErr := apply.Run(c, st, args[0], apply.Options{
					DryRun:                      dryRun,
					Mode:                        mode,
					AllowCrossArchiveDuplicates: allowCrossArchiveDuplicates || cfg.Manifest.AllowCrossArchiveDuplicates,
					Roots:                       roots,
					Yes:                         yes,
				}, logger)

				out := cmd.OutOrStdout()
				if report != nil {
					for _, f := range report.ValidationFailures {
						fmt.Fprintf(out, "validation failed: %s\n", f)
					}
					for _, coll := range report.Collisions {
						fmt.Fprintf(out, "collision at %s: sources %v\n", coll.Dest, coll.SourceIDs)
					}
					for _, s := range report.SkipNotices {
						fmt.Fprintf(out, "skipped source %d -> %s: %s\n", s.SourceID, s.Dest, s.Reason)
					}
					fmt.Fprintf(out, "copied=%d renamed=%d moved=%d skipped=%d errored=%d\n",
						report.Summary.Copied, report.Summary.Renamed, report.Summary.Moved,
						report.Summary.Skipped, report.Summary.Errored)
				}
				return runErr
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without making changes")
	cmd.Flags().BoolVar(&allowCrossArchiveDuplicates, "allow-cross-archive-duplicates", false, "Allow materializing entries that already exist in a different archive root")
	cmd.Flags().StringArrayVar(&roots, "root", nil, "Only apply entries from these roots (id:N or path:..., repeatable)")
	cmd.Flags().BoolVar(&rename, "rename", false, "Use rename instead of copy (fails per-entry across devices)")
	cmd.Flags().BoolVar(&move, "move", false, "Move files: rename, or copy+delete if cross-device (requires --yes)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm a destructive apply (required for --move)")
	cmd.MarkFlagsMutuallyExclusive("rename", "move")
	return cmd
}
