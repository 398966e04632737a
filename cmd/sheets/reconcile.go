package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kikuyu-catholic-sheets/sheets/internal/app"
	"github.com/kikuyu-catholic-sheets/sheets/internal/logging"
	"github.com/kikuyu-catholic-sheets/sheets/internal/repository"
	"github.com/kikuyu-catholic-sheets/sheets/internal/worker"
)

func newReconcileCmd() *cobra.Command {
	var (
		dryRun bool
		minAge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Delete stored score files that no record references",
		Long: `reconcile lists every object under scores/ and removes those no score record points at.
Such files are left behind when a record write fails after the upload finished.
Files newer than --min-age are skipped; their upload may still be writing its record.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadDatabaseConfig()
			if err != nil {
				return err
			}
			logger := logging.New(os.Stderr, cfg.LogLevel)
			backends, err := app.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer backends.Close()
			scores := repository.NewScoreRepository(backends.Docs, logger)

			res, err := worker.Sweep(ctx, scores, backends.Objects, "scores/", time.Now().Add(-minAge), dryRun)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			verb := "removed"
			if dryRun {
				verb = "found"
			}
			for _, obj := range res.Orphans {
				fmt.Fprintf(out, "%s %s (%d bytes)\n", verb, obj.Path, obj.Size)
			}
			fmt.Fprintf(out, "%d objects checked, %d newer than %s skipped, %d orphans %s\n",
				res.Checked, res.Recent, minAge, len(res.Orphans), verb)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List orphans without deleting them")
	cmd.Flags().DurationVar(&minAge, "min-age", time.Hour, "Only consider files at least this old")
	return cmd
}
