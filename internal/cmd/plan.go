package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bioforge/alnpipe/internal/observability"
	"github.com/bioforge/alnpipe/pkg/resolve"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which targets are out of date",
	Long: `Validate the manifest, expand the target graph, and show the
per-target staleness verdicts without executing anything.

Example:
  alnpipe plan -c pipeline.toml
  alnpipe plan -c pipeline.toml --targets 'net:*'`,
	RunE: runPlan,
}

var (
	planManifestPath string
	planTargets      []string
	planExcludes     []string
	planNoLedger     bool
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&planManifestPath, "pipeline", "c", "", "Path to pipeline manifest (required)")
	planCmd.Flags().StringSliceVar(&planTargets, "targets", nil, "Only plan targets matching these glob patterns")
	planCmd.Flags().StringSliceVar(&planExcludes, "exclude", nil, "Skip targets matching these glob patterns")
	planCmd.Flags().BoolVar(&planNoLedger, "no-ledger", false, "Plan without consulting the run ledger")

	_ = planCmd.MarkFlagRequired("pipeline")
}

func runPlan(cmd *cobra.Command, args []string) error {
	m, graph, err := loadPipeline(planManifestPath)
	if err != nil {
		return err
	}

	matcher, err := buildMatcher(planTargets, planExcludes)
	if err != nil {
		observability.CLILogger.Error("Invalid target patterns", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid target patterns", err)
	}

	led, err := openLedger(m, planNoLedger)
	if err != nil {
		return err
	}

	plan, err := resolve.Resolve(graph, led)
	if err != nil {
		observability.CLILogger.Error("Failed to resolve staleness", zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to resolve staleness", err)
	}
	if matcher != nil {
		plan = plan.Restrict(graph, matcher.Match)
	}

	stale := make(map[int]bool, len(plan.StaleIDs))
	for _, id := range plan.StaleIDs {
		stale[id] = true
	}

	fmt.Println("=== Pipeline Plan ===")
	fmt.Println()
	fmt.Printf("Workdir: %s\n", m.WorkDir)
	fmt.Printf("Targets: %d declared, %d out of date\n", graph.Len(), len(plan.StaleIDs))
	fmt.Println()

	if len(plan.StaleIDs) == 0 {
		fmt.Println("Everything is up to date.")
		return nil
	}

	fmt.Println("Would run, in order:")
	for i, id := range plan.StaleIDs {
		t := graph.Target(id)
		d := plan.Decisions[id]
		fmt.Printf("  %3d. %-28s %s\n", i+1, t.Name, d.Reason)
	}
	fmt.Println()
	fmt.Println("Manifest validated successfully. Use 'alnpipe run' to execute.")
	return nil
}
