package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bioforge/alnpipe/internal/observability"
	"github.com/bioforge/alnpipe/pkg/ledger"
	"github.com/bioforge/alnpipe/pkg/output"
	"github.com/bioforge/alnpipe/pkg/resolve"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded runs and current staleness",
	Long: `Show the run ledger alongside the current staleness verdicts.

For every declared target the status lists the last recorded outcome,
when it completed, and whether the target would re-run today.

With --records the status is read from a saved JSONL records file
instead of the ledger, summarizing a past run.

Example:
  alnpipe status -c pipeline.toml
  alnpipe status -c pipeline.toml --failed
  alnpipe status --records run.jsonl`,
	RunE: runStatus,
}

var (
	statusManifestPath string
	statusFailedOnly   bool
	statusRecordsPath  string
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusManifestPath, "pipeline", "c", "", "Path to pipeline manifest")
	statusCmd.Flags().BoolVar(&statusFailedOnly, "failed", false, "Only show failed and out-of-date targets")
	statusCmd.Flags().StringVar(&statusRecordsPath, "records", "", "Summarize a JSONL records file from a past run")

	statusCmd.MarkFlagsOneRequired("pipeline", "records")
	statusCmd.MarkFlagsMutuallyExclusive("pipeline", "records")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusRecordsPath != "" {
		return showRecords(statusRecordsPath)
	}

	m, graph, err := loadPipeline(statusManifestPath)
	if err != nil {
		return err
	}

	led, err := openLedger(m, false)
	if err != nil {
		return err
	}

	plan, err := resolve.Resolve(graph, led)
	if err != nil {
		observability.CLILogger.Error("Failed to resolve staleness", zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to resolve staleness", err)
	}

	fmt.Printf("Ledger: %s (%d entries)\n", led.Path(), len(led.Entries()))
	fmt.Println()
	fmt.Printf("%-28s %-12s %-22s %s\n", "TARGET", "LAST RUN", "COMPLETED", "STATE")

	names := graph.Names(graph.TopologicalOrder())
	sort.Strings(names)
	for _, name := range names {
		id, _ := graph.Lookup(name)
		d := plan.Decisions[id]

		lastRun := "-"
		completed := "-"
		if e, ok := led.Get(name); ok {
			lastRun = string(e.Status)
			completed = e.CompletedAt.Local().Format("2006-01-02 15:04:05")
		}

		state := "up to date"
		if d.Stale {
			state = string(d.Reason)
		}

		if statusFailedOnly && !d.Stale && lastRun != string(ledger.StatusFailed) {
			continue
		}
		fmt.Printf("%-28s %-12s %-22s %s\n", name, lastRun, completed, state)
	}

	// Ledger entries for targets no longer declared are worth flagging;
	// prune removes them.
	var orphans []string
	for _, e := range led.Entries() {
		if _, ok := graph.Lookup(e.Target); !ok {
			orphans = append(orphans, e.Target)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		fmt.Println()
		fmt.Printf("%d ledger entries reference undeclared targets (run 'alnpipe prune'):\n", len(orphans))
		for _, name := range orphans {
			fmt.Printf("  - %s\n", name)
		}
	}
	return nil
}

// showRecords summarizes a saved JSONL records file from a past run.
func showRecords(path string) error {
	f, err := os.Open(path)
	if err != nil {
		observability.CLILogger.Error("Failed to open records file",
			zap.String("path", path),
			zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to open records file", err)
	}
	defer func() { _ = f.Close() }()

	records, err := output.ReadAll(f)
	if err != nil {
		observability.CLILogger.Error("Failed to decode records file",
			zap.String("path", path),
			zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to decode records file", err)
	}

	runID := ""
	var targets []output.TargetRecord
	var summary *output.SummaryRecord
	for _, rec := range records {
		if runID == "" {
			runID = rec.RunID
		}
		switch rec.Type {
		case output.TypeTarget:
			var tr output.TargetRecord
			if err := json.Unmarshal(rec.Data, &tr); err != nil {
				return exitError(foundry.ExitFileReadError, "Malformed target record", err)
			}
			targets = append(targets, tr)
		case output.TypeSummary:
			var sr output.SummaryRecord
			if err := json.Unmarshal(rec.Data, &sr); err != nil {
				return exitError(foundry.ExitFileReadError, "Malformed summary record", err)
			}
			summary = &sr
		}
	}

	fmt.Printf("Records: %s (run %s, %d records)\n", path, runID, len(records))
	fmt.Println()
	fmt.Printf("%-28s %-16s %-10s %s\n", "TARGET", "STATUS", "EXIT", "DURATION")
	for _, tr := range targets {
		if statusFailedOnly && tr.Status == "succeeded" {
			continue
		}
		fmt.Printf("%-28s %-16s %-10d %.2fs\n", tr.Target, tr.Status, tr.ExitCode, tr.DurationSeconds)
	}

	if summary != nil {
		fmt.Println()
		fmt.Printf("succeeded=%d failed=%d skipped=%d fresh=%d duration=%s\n",
			summary.Succeeded, summary.Failed, summary.Skipped, summary.Fresh, summary.DurationHuman)
		for _, name := range summary.FailedTargets {
			fmt.Printf("  failed: %s\n", name)
		}
	}
	return nil
}
