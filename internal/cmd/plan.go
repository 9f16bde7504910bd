package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gristmill/internal/observability"
	"github.com/3leaps/gristmill/pkg/manifest"
	"github.com/3leaps/gristmill/pkg/preflight"
	"github.com/3leaps/gristmill/pkg/runner"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview a run plan without processing",
	Long: `Discover inputs, reconcile the published ledger, and report what a run
would process, without touching any file.

Example:
  gristmill plan -m job.yaml`,
	RunE: runPlan,
}

var planManifestPath string

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&planManifestPath, "manifest", "m", "", "Path to run manifest (required)")
	_ = planCmd.MarkFlagRequired("manifest")
}

func runPlan(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(planManifestPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", planManifestPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	return runPlanPreview(cmd.Context(), m)
}

// runPlanPreview computes and prints the run plan. Shared by plan and
// run --dry-run.
func runPlanPreview(ctx context.Context, m *manifest.Manifest) error {
	setup, err := buildRunSetup(ctx, m)
	if err != nil {
		return err
	}
	defer setup.close()

	pf, err := preflight.Run(ctx, setup.store, preflight.Options{
		CheckWrite: false,
		LedgerName: m.Ledger.Name,
	})
	if err != nil {
		observability.CLILogger.Error("Preflight failed", zap.Error(err))
		return exitError(preflightExitCode(err), "Preflight failed", err)
	}

	rcfg := runner.DefaultConfig()
	rcfg.Store = setup.store
	rcfg.Operation = setup.operation
	rcfg.LedgerName = m.Ledger.Name
	rcfg.MaxFiles = m.Limits.MaxFiles
	rcfg.Workdir = setup.workdir
	rcfg.Matcher = setup.matcher
	rcfg.Filter = setup.filter
	rcfg.Logger = observability.CLILogger
	rcfg.Ledger = pf.Ledger

	r, err := runner.New(rcfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid run configuration", err)
	}

	plan, err := r.Plan(ctx)
	if err != nil {
		observability.CLILogger.Error("Planning failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Planning failed", err)
	}

	showRunPlan(m, plan)
	return nil
}

// showRunPlan prints the plan in human-readable form.
func showRunPlan(m *manifest.Manifest, plan *runner.Plan) {
	fmt.Println("=== Run Plan ===")
	fmt.Println()
	if m.Name != "" {
		fmt.Printf("Name:        %s\n", m.Name)
	}
	fmt.Printf("Operation:   %s\n", m.Operation.Name)
	fmt.Printf("Source:      %s\n", m.Source.URI)
	fmt.Printf("Destination: %s\n", m.Destination.URI)
	fmt.Printf("Ledger:      %s\n", m.Ledger.Name)
	fmt.Println()

	fmt.Printf("Discovered:  %d\n", plan.Discovered)
	fmt.Printf("Planned:     %d\n", len(plan.Items))
	if plan.SkippedCompleted > 0 {
		fmt.Printf("  completed already: %d\n", plan.SkippedCompleted)
	}
	if plan.SkippedFiltered > 0 {
		fmt.Printf("  filtered out:      %d\n", plan.SkippedFiltered)
	}
	if plan.SkippedDuplicate > 0 {
		fmt.Printf("  duplicate names:   %d\n", plan.SkippedDuplicate)
	}
	if plan.SkippedCap > 0 {
		fmt.Printf("  over max files:    %d\n", plan.SkippedCap)
	}
	if len(plan.Demoted) > 0 {
		fmt.Printf("Demoted (output vanished, will reprocess): %d\n", len(plan.Demoted))
		for _, id := range plan.Demoted {
			fmt.Printf("  - %s\n", id)
		}
	}
	fmt.Println()

	if len(plan.Items) == 0 {
		fmt.Println("Nothing to process.")
		return
	}
	fmt.Println("Files to process:")
	for _, in := range plan.Items {
		fmt.Printf("  - %s (%s)\n", in.Identity, in.Name)
	}
	fmt.Println()
	fmt.Println("Plan only; no files were processed.")
}
