package main

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/container-resource-predictor/gcperfsim/internal/config"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/results"
)

func newReportCmd() *cobra.Command {
	var (
		list    bool
		history int
	)

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Print a stored STATS report",
		Long: `The report command reads reports from the storage configured with
GCPERFSIM_RESULTS_BACKEND and prints the STATS block of a run. With
--history it lists the most recent runs recorded in the database at
GCPERFSIM_DATABASE_URL instead.

Example:
  gcperfsim report 0f1c2d3e-4b5a-6978-8a9b-0c1d2e3f4a5b
  gcperfsim report --list
  gcperfsim report --history 20`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.Load()
			if err != nil {
				return err
			}
			if history > 0 {
				return printHistory(cmd, env, history)
			}
			if !env.StoreResults() {
				return errors.New("no results backend configured; set GCPERFSIM_RESULTS_BACKEND")
			}
			storage, err := results.NewStorage(cmd.Context(), &env.Results)
			if err != nil {
				return err
			}

			if list {
				ids, err := storage.ListRuns(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			}
			if len(args) != 1 {
				return errors.New("expected a run id or --list")
			}
			report, err := storage.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(report)
			return err
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list stored run ids")
	cmd.Flags().IntVar(&history, "history", 0, "list the n most recent runs from the run history database")
	return cmd
}

func printHistory(cmd *cobra.Command, env *config.Config, n int) error {
	db := env.History()
	if db == nil {
		return errors.New("no run history database configured; set GCPERFSIM_DATABASE_URL")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), env.PersistTimeout)
	defer cancel()

	h, err := results.OpenHistory(ctx, db)
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.Recent(ctx, n)
	if err != nil {
		return err
	}
	return results.WriteRuns(cmd.OutOrStdout(), runs)
}
