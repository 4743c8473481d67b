package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/workload"
)

func errFileWithFlags(name string) error {
	return errors.Wrapf(workload.ErrInvalidConfig, "--file must be the only workload flag, got --%s", name)
}

// runFlags are the settings that do not describe the workload.
type runFlags struct {
	statusAddr string
	runID      string
	dryRun     bool
}

func newRootCmd() *cobra.Command {
	var (
		wf workloadFlags
		rf runFlags
	)

	cmd := &cobra.Command{
		Use:   "gcperfsim [flags]",
		Short: "Stress a garbage collector with a configurable allocation workload",
		Long: `gcperfsim allocates objects drawn from weighted size buckets, keeps every
nth object of a bucket alive in a fixed-size survivor set and replaces
survivors as new ones arrive. When the workload finishes it prints a
"=== STATS ===" block with per-region allocation totals.

Single-dash long flags (-tc 4) are accepted as well as --tc 4.

Example:
  gcperfsim -tc 4 -tagb 2 -tlgb 0.5
  gcperfsim -tc 8 -tm 5 -lohar 100 -pohar 50 -tlgb 1 -at simple
  gcperfsim -file workload.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := wf.config(cmd.Flags())
			if err != nil {
				return err
			}
			if rf.dryRun {
				return describe(cmd, cfg)
			}
			return runSimulation(cmd, cfg, rf)
		},
	}

	wf.register(cmd.Flags())
	cmd.Flags().StringVar(&rf.statusAddr, "status-addr", "", "serve status and metrics on this address (overrides GCPERFSIM_STATUS_ADDR)")
	cmd.Flags().StringVar(&rf.runID, "run-id", "", "identifier of this run (default: random uuid)")
	cmd.Flags().BoolVar(&rf.dryRun, "dry-run", false, "print the workload and exit")

	cmd.AddCommand(newReportCmd())
	return cmd
}

func describe(cmd *cobra.Command, cfg *workload.Config) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Running %d threads.\n", cfg.MaxThreads())
	for _, p := range cfg.Phases {
		fmt.Fprintln(out, p.Describe())
	}
	return nil
}

func execute() {
	cmd := newRootCmd()
	cmd.SetArgs(normalizeArgs(os.Args[1:]))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
