package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bioforge/alnpipe/internal/observability"
	"github.com/bioforge/alnpipe/pkg/executor"
	"github.com/bioforge/alnpipe/pkg/ledger"
	"github.com/bioforge/alnpipe/pkg/manifest"
	"github.com/bioforge/alnpipe/pkg/match"
	"github.com/bioforge/alnpipe/pkg/output"
	"github.com/bioforge/alnpipe/pkg/pipeline"
	"github.com/bioforge/alnpipe/pkg/resolve"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline from a manifest",
	Long: `Run the pipeline as declared in a TOML, YAML, or JSON manifest.

Only out-of-date targets are executed: a target re-runs when an output
is missing, an input is newer than an output, its command or options
changed since the recorded run, its last run failed, or any dependency
is itself out of date.

Example:
  alnpipe run -c pipeline.toml
  alnpipe run -c pipeline.toml -j 8
  alnpipe run -c pipeline.toml --targets 'align:*'
  alnpipe run -c pipeline.toml --dry-run
  alnpipe run -c pipeline.toml -o records.jsonl`,
	RunE: runRun,
}

var (
	runManifestPath string
	runJobs         int
	runTargets      []string
	runExcludes     []string
	runOutput       string
	runQuiet        bool
	runDryRun       bool
	runKeepPartial  bool
	runNoLedger     bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runManifestPath, "pipeline", "c", "", "Path to pipeline manifest (required)")
	runCmd.Flags().IntVarP(&runJobs, "jobs", "j", 0, "Number of parallel workers (overrides manifest)")
	runCmd.Flags().StringSliceVar(&runTargets, "targets", nil, "Only run targets matching these glob patterns")
	runCmd.Flags().StringSliceVar(&runExcludes, "exclude", nil, "Skip targets matching these glob patterns")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Write JSONL records to file instead of stdout")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress records")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Show what would run without executing")
	runCmd.Flags().BoolVar(&runKeepPartial, "keep-partial", false, "Keep partial outputs of failed targets")
	runCmd.Flags().BoolVar(&runNoLedger, "no-ledger", false, "Run statelessly without the run ledger")

	_ = runCmd.MarkFlagRequired("pipeline")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID := uuid.New().String()

	m, graph, err := loadPipeline(runManifestPath)
	if err != nil {
		return err
	}

	matcher, err := buildMatcher(runTargets, runExcludes)
	if err != nil {
		observability.CLILogger.Error("Invalid target patterns", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid target patterns", err)
	}

	led, err := openLedger(m, runNoLedger)
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

	if runDryRun {
		return showPlan(ctx, graph, plan, runID)
	}

	writer, cleanup, err := createWriter(runOutput, runID)
	if err != nil {
		observability.CLILogger.Error("Failed to create output", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()
	if runQuiet {
		writer = quietWriter{writer}
	}

	jobs := m.Run.Jobs
	if runJobs > 0 {
		jobs = runJobs
	}

	cfg := executor.Config{
		Jobs:              jobs,
		KeepPartial:       runKeepPartial || m.Run.KeepPartial,
		DownloadRateLimit: m.Run.DownloadRateLimit,
		RunID:             runID,
	}

	observability.CLILogger.Info("Starting run",
		zap.String("run_id", runID),
		zap.String("workdir", m.WorkDir),
		zap.Int("targets", graph.Len()),
		zap.Int("stale", len(plan.StaleIDs)),
		zap.Int("jobs", cfg.Jobs))

	eng := executor.New(graph, led, writer, cfg)
	report, err := eng.Run(ctx, plan)
	if err != nil {
		if ctx.Err() != nil {
			observability.CLILogger.Warn("Run cancelled",
				zap.String("run_id", runID),
				zap.Int("succeeded", report.Succeeded))
			_ = writer.WriteError(ctx, &output.ErrorRecord{
				Code:    output.ErrCodeCancelled,
				Message: "run cancelled",
			})
			return exitError(foundry.ExitSignalInt, "Run cancelled", err)
		}
		observability.CLILogger.Error("Run failed",
			zap.String("run_id", runID),
			zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Run failed", err)
	}

	observability.CLILogger.Info("Run completed",
		zap.String("run_id", runID),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration))

	if !report.OK() {
		return exitError(foundry.ExitExternalServiceUnavailable, "Run finished with failures",
			fmt.Errorf("%d failed, %d skipped", report.Failed, report.Skipped))
	}
	return nil
}

// loadPipeline loads the manifest and expands it into the target graph.
func loadPipeline(path string) (*manifest.Manifest, *pipeline.Graph, error) {
	m, err := manifest.Load(path)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", path),
			zap.Error(err))
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	graph, err := pipeline.Build(m.ToSpec())
	if err != nil {
		observability.CLILogger.Error("Failed to build target graph",
			zap.String("path", path),
			zap.Error(err))
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid pipeline", err)
	}

	observability.CLILogger.Debug("Loaded pipeline",
		zap.String("path", path),
		zap.String("workdir", m.WorkDir),
		zap.Int("genomes", len(m.Genomes)),
		zap.Int("pairs", len(m.Pairs)),
		zap.Int("targets", graph.Len()))

	return m, graph, nil
}

// buildMatcher compiles --targets/--exclude patterns. Returns nil when
// no selection was requested.
func buildMatcher(includes, excludes []string) (*match.Matcher, error) {
	if len(includes) == 0 && len(excludes) == 0 {
		return nil, nil
	}
	if len(includes) == 0 {
		includes = []string{"**"}
	}
	return match.New(match.Config{Includes: includes, Excludes: excludes})
}

// openLedger opens the run ledger configured by the manifest, or
// returns nil in stateless mode.
func openLedger(m *manifest.Manifest, noLedger bool) (*ledger.Ledger, error) {
	if noLedger {
		return nil, nil
	}
	led, err := ledger.Open(m.Run.Ledger)
	if err != nil {
		observability.CLILogger.Error("Failed to open run ledger",
			zap.String("path", m.Run.Ledger),
			zap.Error(err))
		return nil, exitError(foundry.ExitFileReadError, "Failed to open run ledger", err)
	}
	return led, nil
}

// createWriter creates a JSONL writer for the given destination.
// An empty destination means stdout.
func createWriter(dest, runID string) (output.Writer, func(), error) {
	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID)
		return w, func() { _ = w.Close() }, nil
	}

	f, err := os.Create(dest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", dest, err)
	}
	w := output.NewJSONLWriter(f, runID)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}

// quietWriter drops progress records and passes everything else
// through.
type quietWriter struct {
	output.Writer
}

func (q quietWriter) WriteProgress(ctx context.Context, rec *output.ProgressRecord) error {
	return nil
}

// showPlan prints the staleness plan without executing anything.
func showPlan(ctx context.Context, graph *pipeline.Graph, plan *resolve.Plan, runID string) error {
	writer := output.NewJSONLWriter(os.Stdout, runID)
	defer func() { _ = writer.Close() }()

	stale := make(map[int]bool, len(plan.StaleIDs))
	for _, id := range plan.StaleIDs {
		stale[id] = true
	}

	fresh := 0
	for _, id := range graph.TopologicalOrder() {
		d := plan.Decisions[id]
		if !stale[id] {
			if !d.Stale {
				fresh++
			}
			continue
		}
		t := graph.Target(id)
		if err := writer.WritePlan(ctx, &output.PlanRecord{
			Target: t.Name,
			Kind:   string(t.Kind),
			Stale:  true,
			Reason: string(d.Reason),
		}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write plan", err)
		}
	}

	fmt.Fprintf(os.Stderr, "%d of %d targets out of date (%d fresh). Remove --dry-run to execute.\n",
		len(plan.StaleIDs), graph.Len(), fresh)
	return nil
}
