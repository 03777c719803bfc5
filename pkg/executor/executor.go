// Package executor runs stale pipeline targets with bounded concurrency.
//
// Scheduling is message passing: a single coordinating goroutine feeds a
// ready-queue channel consumed by workers and folds completions from a
// results channel back into the dependency accounting and the run
// ledger. Workers share no mutable state beyond the two channels; the
// ledger has exactly one writer.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bioforge/alnpipe/pkg/ledger"
	"github.com/bioforge/alnpipe/pkg/output"
	"github.com/bioforge/alnpipe/pkg/pipeline"
	"github.com/bioforge/alnpipe/pkg/resolve"
)

// stderrTailLimit bounds the diagnostic output attached to a failure.
const stderrTailLimit = 64 * 1024

// Config configures an Executor run.
type Config struct {
	// Jobs is the number of parallel workers. Default: 4.
	Jobs int

	// KeepPartial leaves a failed target's partial outputs on disk for
	// inspection instead of removing them.
	KeepPartial bool

	// DownloadRateLimit caps download-step dispatches per second
	// against remote hosts. Zero means unlimited.
	DownloadRateLimit float64

	// RunID is the correlation id stamped into records and ledger
	// entries.
	RunID string
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{Jobs: 4}
}

// ErrLedgerWrite wraps a ledger persistence failure. It is fatal:
// without a trustworthy ledger, resumability guarantees do not hold.
var ErrLedgerWrite = errors.New("ledger write failed")

// Executor drives one run over a resolved plan.
//
// Executor is safe for single use only. Create a new Executor for each
// run.
type Executor struct {
	graph  *pipeline.Graph
	led    *ledger.Ledger // nil in stateless mode
	writer output.Writer
	cfg    Config

	limiter *rate.Limiter // nil if unlimited
}

// New creates an executor. led may be nil (stateless mode: outcomes are
// not persisted). writer may be nil (records are discarded).
func New(g *pipeline.Graph, led *ledger.Ledger, writer output.Writer, cfg Config) *Executor {
	if cfg.Jobs <= 0 {
		cfg.Jobs = DefaultConfig().Jobs
	}
	if writer == nil {
		writer = output.Discard{}
	}
	e := &Executor{graph: g, led: led, writer: writer, cfg: cfg}
	if cfg.DownloadRateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.DownloadRateLimit), 1)
	}
	return e
}

// result is a completion message from a worker.
type result struct {
	id      int
	outcome Outcome
}

// Run executes the plan's stale targets in dependency order.
//
// A target is dispatched the instant its last pending stale dependency
// completes successfully; targets whose dependency failed are marked
// upstream-failed and never attempted. Run blocks until every scheduled
// target has a terminal outcome or the context is cancelled; in-flight
// processes are killed on cancellation and the ledger stays consistent
// (only completed targets are recorded).
//
// Per-target failures do not abort the run and are collected into the
// returned Report; Run returns a non-nil error only for engine-level
// faults (ledger write failure, cancellation).
func (e *Executor) Run(ctx context.Context, plan *resolve.Plan) (*Report, error) {
	start := time.Now()
	report := &Report{
		Outcomes: make(map[string]Outcome, len(plan.StaleIDs)),
		Fresh:    e.graph.Len() - len(plan.StaleIDs),
	}

	total := len(plan.StaleIDs)
	if total == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	inPlan := make(map[int]bool, total)
	for _, id := range plan.StaleIDs {
		inPlan[id] = true
	}

	// Remaining stale dependencies per scheduled target.
	pendingDeps := make(map[int]int, total)
	for _, id := range plan.StaleIDs {
		n := 0
		for _, up := range e.graph.Upstream(id) {
			if inPlan[up] {
				n++
			}
		}
		pendingDeps[id] = n
	}

	readyCh := make(chan int, total)
	resultCh := make(chan result, total)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range readyCh {
				resultCh <- result{id: id, outcome: e.runTarget(ctx, e.graph.Target(id))}
			}
		}()
	}

	// Seed the queue with targets whose stale dependencies are already
	// satisfied, preserving plan order.
	running := make(map[int]bool, e.cfg.Jobs)
	for _, id := range plan.StaleIDs {
		if pendingDeps[id] == 0 {
			readyCh <- id
			running[id] = true
		}
	}

	var fatal error
	done := 0
	cancelled := false

	for done < total {
		var res result
		if cancelled {
			// No new dispatches; everything still unaccounted for is
			// in flight and will surface here once CommandContext
			// kills it.
			res = <-resultCh
		} else {
			select {
			case res = <-resultCh:
			case <-ctx.Done():
				cancelled = true
				done += e.cancelPending(ctx, plan, report, inPlan, pendingDeps, running)
				continue
			}
		}

		delete(running, res.id)
		done++
		e.fold(ctx, plan, report, res, running)

		switch res.outcome.Status {
		case StatusSucceeded:
			if err := e.record(res.id, res.outcome); err != nil {
				fatal = err
				cancelled = true
				break
			}
			if cancelled {
				break
			}
			for _, down := range e.graph.Downstream(res.id) {
				if !inPlan[down] {
					continue
				}
				pendingDeps[down]--
				if pendingDeps[down] == 0 {
					readyCh <- down
					running[down] = true
				}
			}
		case StatusFailed:
			// The failure entry is what keeps this target stale when
			// partial outputs survive; losing it silently would let a
			// later resolve judge the target fresh.
			if err := e.record(res.id, res.outcome); err != nil {
				fatal = err
				cancelled = true
			}
			done += e.skipDependents(ctx, plan, report, res.id, inPlan, pendingDeps, running)
		case StatusCancelled:
			done += e.skipDependents(ctx, plan, report, res.id, inPlan, pendingDeps, running)
		}

		if cancelled {
			// Nothing new gets dispatched; account for targets that
			// will never run.
			done += e.cancelPending(ctx, plan, report, inPlan, pendingDeps, running)
		}
	}

	close(readyCh)
	wg.Wait()

	report.Duration = time.Since(start)
	e.writeSummary(ctx, report)

	if fatal != nil {
		return report, fatal
	}
	if cancelled && ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// fold merges one outcome into the report and emits its record.
func (e *Executor) fold(ctx context.Context, plan *resolve.Plan, report *Report, res result, running map[int]bool) {
	t := e.graph.Target(res.id)
	o := res.outcome
	report.Outcomes[t.Name] = o

	switch o.Status {
	case StatusSucceeded:
		report.Succeeded++
	case StatusFailed:
		report.Failed++
		report.FailedTargets = append(report.FailedTargets, t.Name)
	case StatusUpstreamFailed, StatusCancelled:
		report.Skipped++
	}

	rec := &output.TargetRecord{
		Target:          t.Name,
		Kind:            string(t.Kind),
		Subject:         t.Subject,
		Status:          string(o.Status),
		ExitCode:        o.ExitCode,
		DurationSeconds: o.Duration.Seconds(),
		Stderr:          o.Stderr,
		Outputs:         t.Outputs,
	}
	if d, ok := plan.Decisions[res.id]; ok {
		rec.Reason = string(d.Reason)
	}
	if o.Err != nil && o.Stderr == "" {
		rec.Stderr = o.Err.Error()
	}
	_ = e.writer.WriteTarget(ctx, rec)

	var active []string
	for id := range running {
		active = append(active, e.graph.Target(id).Name)
	}
	sort.Strings(active)

	_ = e.writer.WriteProgress(ctx, &output.ProgressRecord{
		Completed: report.Succeeded + report.Failed + report.Skipped,
		Total:     len(plan.StaleIDs),
		Running:   active,
	})
}

// skipDependents marks every not-yet-dispatched transitive dependent of
// id as upstream-failed and returns how many targets it terminated.
func (e *Executor) skipDependents(ctx context.Context, plan *resolve.Plan, report *Report, id int, inPlan map[int]bool, pendingDeps map[int]int, running map[int]bool) int {
	skipped := 0
	queue := []int{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, down := range e.graph.Downstream(cur) {
			if !inPlan[down] {
				continue
			}
			t := e.graph.Target(down)
			if _, terminal := report.Outcomes[t.Name]; terminal {
				continue
			}
			e.fold(ctx, plan, report, result{id: down, outcome: Outcome{
				Target: t.Name,
				Status: StatusUpstreamFailed,
			}}, running)
			// Poison the dependency count so a later success of a
			// sibling dependency cannot re-ready this target.
			pendingDeps[down] = -1
			skipped++
			queue = append(queue, down)
		}
	}
	return skipped
}

// cancelPending settles targets that were never dispatched once the run
// is cancelled. In-flight targets still report through the results
// channel.
func (e *Executor) cancelPending(ctx context.Context, plan *resolve.Plan, report *Report, inPlan map[int]bool, pendingDeps map[int]int, running map[int]bool) int {
	settled := 0
	for _, id := range plan.StaleIDs {
		t := e.graph.Target(id)
		if _, terminal := report.Outcomes[t.Name]; terminal {
			continue
		}
		if running[id] {
			continue
		}
		e.fold(ctx, plan, report, result{id: id, outcome: Outcome{
			Target: t.Name,
			Status: StatusCancelled,
		}}, running)
		pendingDeps[id] = -1
		settled++
	}
	return settled
}

// record persists a terminal outcome to the ledger.
func (e *Executor) record(id int, o Outcome) error {
	if e.led == nil {
		return nil
	}
	t := e.graph.Target(id)
	status := ledger.StatusSucceeded
	if o.Status != StatusSucceeded {
		status = ledger.StatusFailed
	}
	entry := ledger.Entry{
		Target:      t.Name,
		Fingerprint: ledger.Fingerprint(t),
		Status:      status,
		CompletedAt: time.Now().UTC(),
		Duration:    o.Duration.Seconds(),
		RunID:       e.cfg.RunID,
	}
	if err := e.led.Record(entry); err != nil {
		return fmt.Errorf("%w: target %s: %v", ErrLedgerWrite, t.Name, err)
	}
	return nil
}

// runTarget invokes the target's external command and verifies its
// output contract.
func (e *Executor) runTarget(ctx context.Context, t pipeline.Target) Outcome {
	start := time.Now()
	o := Outcome{Target: t.Name}

	if ctx.Err() != nil {
		o.Status = StatusCancelled
		return o
	}

	if t.Kind == pipeline.StepDownload && e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			o.Status = StatusCancelled
			return o
		}
	}

	argv, err := t.ExpandCommand()
	if err != nil {
		o.Status = StatusFailed
		o.Err = err
		o.Duration = time.Since(start)
		return o
	}

	// Output directories are the engine's responsibility; tools only
	// write files.
	for _, out := range t.Outputs {
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			o.Status = StatusFailed
			o.Err = fmt.Errorf("create output dir: %w", err)
			o.Duration = time.Since(start)
			return o
		}
	}

	stderr := newTailBuffer(stderrTailLimit)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = stderr // tools write data to files; console output is diagnostics
	cmd.Stderr = stderr
	cmd.Env = os.Environ()
	// Orphaned grandchildren of a killed wrapper can keep the output
	// pipes open; WaitDelay bounds how long cancellation waits on them.
	cmd.WaitDelay = 3 * time.Second

	err = cmd.Run()
	o.Duration = time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			o.Status = StatusCancelled
			e.cleanPartial(t)
			return o
		}
		o.Status = StatusFailed
		o.Stderr = stderr.String()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			o.ExitCode = exitErr.ExitCode()
			o.Err = fmt.Errorf("%s exited with code %d", argv[0], o.ExitCode)
		} else {
			o.Err = fmt.Errorf("start %s: %w", argv[0], err)
		}
		e.cleanPartial(t)
		return o
	}

	// Exit zero is not enough: every declared output must now exist.
	for _, out := range t.Outputs {
		if _, statErr := os.Stat(out); statErr != nil {
			o.Status = StatusFailed
			o.Stderr = stderr.String()
			o.Err = fmt.Errorf("command succeeded but did not produce declared output %s", out)
			e.cleanPartial(t)
			return o
		}
	}

	o.Status = StatusSucceeded
	return o
}

// cleanPartial removes whatever outputs a failed attempt left behind,
// unless the run asked to keep them for inspection.
func (e *Executor) cleanPartial(t pipeline.Target) {
	if e.cfg.KeepPartial {
		return
	}
	for _, out := range t.Outputs {
		_ = os.Remove(out)
	}
}

func (e *Executor) writeSummary(ctx context.Context, report *Report) {
	_ = e.writer.WriteSummary(ctx, &output.SummaryRecord{
		Succeeded:     report.Succeeded,
		Failed:        report.Failed,
		Skipped:       report.Skipped,
		Fresh:         report.Fresh,
		FailedTargets: report.FailedTargets,
		Duration:      report.Duration,
		DurationHuman: report.Duration.Round(time.Millisecond).String(),
	})
}
