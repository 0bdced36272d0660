package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"canon/internal/manifest"
	"canon/internal/store"
)

func newClusterCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Generate a cluster manifest from matching sources",
	}
	cmd.AddCommand(newClusterGenerateCommand(ctx))
	return cmd
}

func newClusterGenerateCommand(ctx *commandContext) *cobra.Command {
	var where []string
	var dest string
	var output string
	var pattern string
	var includeArchived bool
	var showArchived bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build a manifest of sources matching --where into --dest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				if pattern == "" {
					pattern = cfg.Manifest.DefaultPattern
				}

				node, err := buildFilter(c, st, where, "")
				if err != nil {
					return err
				}

				archiveRootID, baseDir, err := manifest.ResolveArchiveDest(c, st, dest)
				if err != nil {
					return err
				}

				m, err := manifest.Generate(c, st, node, manifest.GenerateOptions{
					ArchiveRootID:   archiveRootID,
					BaseDir:         baseDir,
					Pattern:         pattern,
					IncludeArchived: includeArchived,
					QueryText:       where,
				})
				if err != nil {
					return err
				}
				manifest.Stamp(m, time.Now().UTC())

				if err := manifest.Write(m, output); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries to %s\n", len(m.Entries), output)
				if showArchived {
					skipped, err := manifest.Generate(c, st, node, manifest.GenerateOptions{
						ArchiveRootID:   archiveRootID,
						BaseDir:         baseDir,
						Pattern:         pattern,
						IncludeArchived: true,
						QueryText:       where,
					})
					if err == nil && len(skipped.Entries) > len(m.Entries) {
						fmt.Fprintf(cmd.OutOrStdout(), "%d additional source(s) already archived (use --include-archived to include them)\n",
							len(skipped.Entries)-len(m.Entries))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "Filter expression (repeatable, ANDed)")
	cmd.Flags().StringVar(&dest, "dest", "", "Destination directory, must resolve inside a registered archive root")
	cmd.Flags().StringVar(&output, "output", "manifest.toml", "Manifest output path")
	cmd.Flags().StringVar(&pattern, "pattern", "", "Destination naming pattern (defaults to the configured pattern)")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "Include sources already present in the destination archive")
	cmd.Flags().BoolVar(&showArchived, "show-archived", false, "Report how many sources were excluded for already being archived")
	_ = cmd.MarkFlagRequired("dest")
	_ = cmd.MarkFlagRequired("where")
	return cmd
}
