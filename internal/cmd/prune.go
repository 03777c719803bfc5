package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bioforge/alnpipe/internal/observability"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove stale ledger entries",
	Long: `Remove ledger entries for targets no longer declared in the
manifest, or forget named targets so their next run starts clean.

Example:
  alnpipe prune -c pipeline.toml
  alnpipe prune -c pipeline.toml --target align:osat-sbic`,
	RunE: runPrune,
}

var (
	pruneManifestPath string
	pruneForget       []string
)

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().StringVarP(&pruneManifestPath, "pipeline", "c", "", "Path to pipeline manifest (required)")
	pruneCmd.Flags().StringSliceVar(&pruneForget, "target", nil, "Forget these targets instead of pruning undeclared ones")

	_ = pruneCmd.MarkFlagRequired("pipeline")
}

func runPrune(cmd *cobra.Command, args []string) error {
	m, graph, err := loadPipeline(pruneManifestPath)
	if err != nil {
		return err
	}

	led, err := openLedger(m, false)
	if err != nil {
		return err
	}

	if len(pruneForget) > 0 {
		for _, name := range pruneForget {
			if _, ok := graph.Lookup(name); !ok {
				return exitError(foundry.ExitInvalidArgument, "Unknown target",
					fmt.Errorf("%s is not declared in the manifest", name))
			}
			if err := led.Forget(name); err != nil {
				observability.CLILogger.Error("Failed to update ledger", zap.Error(err))
				return exitError(foundry.ExitFileWriteError, "Failed to update ledger", err)
			}
			fmt.Printf("Forgot %s\n", name)
		}
		return nil
	}

	removed, err := led.Prune(func(target string) bool {
		_, ok := graph.Lookup(target)
		return ok
	})
	if err != nil {
		observability.CLILogger.Error("Failed to prune ledger", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to prune ledger", err)
	}

	if len(removed) == 0 {
		fmt.Println("Nothing to prune.")
		return nil
	}
	fmt.Printf("Pruned %d entries:\n", len(removed))
	for _, name := range removed {
		fmt.Printf("  - %s\n", name)
	}
	return nil
}
