package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"canon/internal/importer"
	"canon/internal/store"
)

func newImportFactsCommand(ctx *commandContext) *cobra.Command {
	var allowArchived bool

	cmd := &cobra.Command{
		Use:   "import-facts",
		Short: "Import externally computed facts (JSONL on stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, logger *slog.Logger) error {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				allow := allowArchived || cfg.Manifest.AllowArchivedDefault

				summary, err := importer.Import(c, st, cmd.InOrStdin(), importer.Options{AllowArchived: allow}, logger, func(r importer.Result) {
					if r.Err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "line %d: %s: %v\n", r.Line, r.Outcome, r.Err)
						return
					}
					if r.Outcome != importer.OutcomeImported {
						fmt.Fprintf(cmd.ErrOrStderr(), "line %d: source %d: %s\n", r.Line, r.SourceID, r.Outcome)
					}
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported=%d stale=%d archived=%d rejected=%d not_found=%d errored=%d\n",
					summary.Imported, summary.Stale, summary.Archived, summary.Rejected, summary.NotFound, summary.Errored)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&allowArchived, "allow-archived", false, "Allow importing facts for sources on archive roots")
	return cmd
}
