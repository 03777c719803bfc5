package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioforge/alnpipe/pkg/ledger"
	"github.com/bioforge/alnpipe/pkg/output"
	"github.com/bioforge/alnpipe/pkg/pipeline"
	"github.com/bioforge/alnpipe/pkg/resolve"
)

// sh builds a target that runs script through /bin/sh with the usual
// placeholder expansion.
func sh(name string, kind pipeline.StepKind, inputs, outputs []string, script string) pipeline.Target {
	return pipeline.Target{
		Name:    name,
		Kind:    kind,
		Subject: "test",
		Inputs:  inputs,
		Outputs: outputs,
		Command: []string{"/bin/sh", "-c", script},
	}
}

// shChain is download -> format -> align where each step copies its
// input forward.
func shChain(t *testing.T, dir string) *pipeline.Graph {
	t.Helper()
	fa := filepath.Join(dir, "genome.fa.gz")
	twoBit := filepath.Join(dir, "genome.2bit")
	axt := filepath.Join(dir, "all.axt.gz")

	g, err := pipeline.NewGraph([]pipeline.Target{
		sh("download:osat", pipeline.StepDownload, nil, []string{fa},
			"echo sequence > {output:0}"),
		sh("format:osat", pipeline.StepFormat, []string{fa}, []string{twoBit},
			"cp {input:0} {output:0}"),
		sh("align:osat-sbic", pipeline.StepAlign, []string{twoBit}, []string{axt},
			"cp {input:0} {output:0}"),
	})
	require.NoError(t, err)
	return g
}

func resolvePlan(t *testing.T, g *pipeline.Graph, led *ledger.Ledger) *resolve.Plan {
	t.Helper()
	plan, err := resolve.Resolve(g, led)
	require.NoError(t, err)
	return plan
}

func TestRunExecutesChainInOrder(t *testing.T) {
	dir := t.TempDir()
	g := shChain(t, dir)
	led, err := ledger.Open(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)

	exec := New(g, led, nil, Config{Jobs: 4, RunID: "run-1"})
	report, err := exec.Run(context.Background(), resolvePlan(t, g, led))
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Succeeded)

	data, err := os.ReadFile(filepath.Join(dir, "all.axt.gz"))
	require.NoError(t, err)
	assert.Equal(t, "sequence\n", string(data))

	// Every target is now recorded and fresh.
	for _, name := range []string{"download:osat", "format:osat", "align:osat-sbic"} {
		e, ok := led.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, ledger.StatusSucceeded, e.Status)
		assert.Equal(t, "run-1", e.RunID)
	}
	next := resolvePlan(t, g, led)
	assert.Empty(t, next.StaleIDs)
}

func TestRunFailureSkipsDependents(t *testing.T) {
	dir := t.TempDir()
	fa := filepath.Join(dir, "fa")
	twoBit := filepath.Join(dir, "2bit")
	axt := filepath.Join(dir, "axt")

	g, err := pipeline.NewGraph([]pipeline.Target{
		sh("download:osat", pipeline.StepDownload, nil, []string{fa},
			"echo ok > {output:0}"),
		sh("format:osat", pipeline.StepFormat, []string{fa}, []string{twoBit},
			"echo 'twoBitInfo: bad sequence' >&2; exit 3"),
		sh("align:osat-sbic", pipeline.StepAlign, []string{twoBit}, []string{axt},
			"cp {input:0} {output:0}"),
	})
	require.NoError(t, err)
	led, err := ledger.Open(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)

	exec := New(g, led, nil, Config{Jobs: 2})
	report, err := exec.Run(context.Background(), resolvePlan(t, g, led))
	require.NoError(t, err)

	assert.False(t, report.OK())
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{"format:osat"}, report.FailedTargets)

	failed := report.Outcomes["format:osat"]
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, 3, failed.ExitCode)
	assert.Contains(t, failed.Stderr, "twoBitInfo: bad sequence")

	assert.Equal(t, StatusUpstreamFailed, report.Outcomes["align:osat-sbic"].Status)
	_, attempted := led.Get("align:osat-sbic")
	assert.False(t, attempted, "skipped target must not be recorded")

	// The failure is recorded so the next resolve re-runs it.
	e, ok := led.Get("format:osat")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, e.Status)
}

func TestRunResumesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	g := shChain(t, dir)
	led, err := ledger.Open(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)

	// First run with the format step broken.
	broken, err := pipeline.NewGraph([]pipeline.Target{
		g.Target(0),
		sh("format:osat", pipeline.StepFormat,
			g.Target(1).Inputs, g.Target(1).Outputs, "exit 1"),
		g.Target(2),
	})
	require.NoError(t, err)

	exec := New(broken, led, nil, Config{Jobs: 2})
	report, err := exec.Run(context.Background(), resolvePlan(t, broken, led))
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)

	// Second run with the step fixed: the download result is reused.
	exec = New(g, led, nil, Config{Jobs: 2})
	plan := resolvePlan(t, g, led)
	assert.Equal(t, []string{"format:osat", "align:osat-sbic"}, g.Names(plan.StaleIDs))

	report, err = exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Succeeded)
}

func TestRunMissingDeclaredOutputIsFailure(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "result")
	g, err := pipeline.NewGraph([]pipeline.Target{
		sh("download:osat", pipeline.StepDownload, nil, []string{out}, "true"),
	})
	require.NoError(t, err)

	exec := New(g, nil, nil, Config{Jobs: 1})
	report, err := exec.Run(context.Background(), resolvePlan(t, g, nil))
	require.NoError(t, err)

	o := report.Outcomes["download:osat"]
	assert.Equal(t, StatusFailed, o.Status)
	require.Error(t, o.Err)
	assert.Contains(t, o.Err.Error(), "did not produce declared output")
}

func TestRunRemovesPartialOutputs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "partial")
	g, err := pipeline.NewGraph([]pipeline.Target{
		sh("align:a-b", pipeline.StepAlign, nil, []string{out},
			"echo truncated > {output:0}; exit 1"),
	})
	require.NoError(t, err)

	t.Run("removed by default", func(t *testing.T) {
		exec := New(g, nil, nil, Config{Jobs: 1})
		_, err := exec.Run(context.Background(), resolvePlan(t, g, nil))
		require.NoError(t, err)
		_, statErr := os.Stat(out)
		assert.True(t, os.IsNotExist(statErr), "partial output should be removed")
	})

	t.Run("kept with KeepPartial", func(t *testing.T) {
		exec := New(g, nil, nil, Config{Jobs: 1, KeepPartial: true})
		_, err := exec.Run(context.Background(), resolvePlan(t, g, nil))
		require.NoError(t, err)
		_, statErr := os.Stat(out)
		assert.NoError(t, statErr, "partial output should survive")
	})
}

func TestRunIndependentTargetsInParallel(t *testing.T) {
	dir := t.TempDir()
	var targets []pipeline.Target
	for _, id := range []string{"a", "b", "c", "d"} {
		out := filepath.Join(dir, id)
		targets = append(targets, sh("download:"+id, pipeline.StepDownload,
			nil, []string{out}, "echo x > {output:0}"))
	}
	g, err := pipeline.NewGraph(targets)
	require.NoError(t, err)

	exec := New(g, nil, nil, Config{Jobs: 4})
	report, err := exec.Run(context.Background(), resolvePlan(t, g, nil))
	require.NoError(t, err)
	assert.Equal(t, 4, report.Succeeded)
}

func TestRunEmitsRecords(t *testing.T) {
	dir := t.TempDir()
	g := shChain(t, dir)

	var buf bytes.Buffer
	writer := output.NewJSONLWriter(&buf, "run-7")

	exec := New(g, nil, writer, Config{Jobs: 2, RunID: "run-7"})
	_, err := exec.Run(context.Background(), resolvePlan(t, g, nil))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	records, err := output.ReadAll(&buf)
	require.NoError(t, err)

	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.Type]++
		assert.Equal(t, "run-7", rec.RunID)
	}
	assert.Equal(t, 3, counts[output.TypeTarget])
	assert.Equal(t, 3, counts[output.TypeProgress])
	assert.Equal(t, 1, counts[output.TypeSummary])
}

func TestRunCancellation(t *testing.T) {
	dir := t.TempDir()
	out1 := filepath.Join(dir, "slow")
	out2 := filepath.Join(dir, "after")
	g, err := pipeline.NewGraph([]pipeline.Target{
		sh("download:slow", pipeline.StepDownload, nil, []string{out1},
			"sleep 10; echo x > {output:0}"),
		sh("format:after", pipeline.StepFormat, []string{out1}, []string{out2},
			"cp {input:0} {output:0}"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	exec := New(g, nil, nil, Config{Jobs: 2})
	start := time.Now()
	report, err := exec.Run(ctx, resolvePlan(t, g, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must not wait for the tool")

	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, StatusCancelled, report.Outcomes["download:slow"].Status)
}

func TestRunEmptyPlan(t *testing.T) {
	g := shChain(t, t.TempDir())
	exec := New(g, nil, nil, Config{})

	report, err := exec.Run(context.Background(), &resolve.Plan{Decisions: map[int]resolve.Decision{}})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Empty(t, report.Outcomes)
}

func TestTailBufferKeepsTail(t *testing.T) {
	tb := newTailBuffer(8)

	_, err := tb.Write([]byte("0123"))
	require.NoError(t, err)
	assert.Equal(t, "0123", tb.String())

	_, err = tb.Write([]byte("456789"))
	require.NoError(t, err)
	assert.Equal(t, "23456789", tb.String())

	// A single write larger than the limit keeps only its tail.
	_, err = tb.Write([]byte("abcdefghijklmnop"))
	require.NoError(t, err)
	assert.Equal(t, "ijklmnop", tb.String())
}

func TestRunLedgerWriteFailureOnFailedTargetIsFatal(t *testing.T) {
	dir := t.TempDir()
	ledDir := filepath.Join(dir, "state")
	led, err := ledger.Open(filepath.Join(ledDir, "ledger.json"))
	require.NoError(t, err)

	out := filepath.Join(dir, "fa")
	g, err := pipeline.NewGraph([]pipeline.Target{
		sh("download:osat", pipeline.StepDownload, nil, []string{out},
			"echo partial > {output:0}; exit 1"),
	})
	require.NoError(t, err)

	// A regular file where the ledger directory belongs makes every
	// flush fail, for root as well.
	require.NoError(t, os.WriteFile(ledDir, []byte("in the way"), 0644))

	exec := New(g, led, nil, Config{Jobs: 1, KeepPartial: true, RunID: "run-1"})
	report, err := exec.Run(context.Background(), resolvePlan(t, g, led))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedgerWrite)
	assert.Equal(t, 1, report.Failed)

	// The failure never reached disk, so nothing may claim this target
	// is settled: a fresh open must not find an entry for it.
	require.NoError(t, os.Remove(ledDir))
	reopened, err := ledger.Open(filepath.Join(ledDir, "ledger.json"))
	require.NoError(t, err)
	_, ok := reopened.Get("download:osat")
	assert.False(t, ok)
}

func TestRunReportsFreshAndRunning(t *testing.T) {
	dir := t.TempDir()
	outA := filepath.Join(dir, "a.fa")
	outB := filepath.Join(dir, "b.fa")
	outC := filepath.Join(dir, "c.fa")
	require.NoError(t, os.WriteFile(outA, []byte("built\n"), 0644))

	g, err := pipeline.NewGraph([]pipeline.Target{
		sh("download:a", pipeline.StepDownload, nil, []string{outA}, "echo a > {output:0}"),
		sh("download:b", pipeline.StepDownload, nil, []string{outB}, "echo b > {output:0}"),
		sh("download:c", pipeline.StepDownload, nil, []string{outC}, "echo c > {output:0}"),
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	writer := output.NewJSONLWriter(&buf, "run-9")

	plan := resolvePlan(t, g, nil)
	require.Len(t, plan.StaleIDs, 2)

	exec := New(g, nil, writer, Config{Jobs: 2, RunID: "run-9"})
	report, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	assert.Equal(t, 1, report.Fresh)

	records, err := output.ReadAll(&buf)
	require.NoError(t, err)

	var progress []output.ProgressRecord
	var summary output.SummaryRecord
	for _, rec := range records {
		switch rec.Type {
		case output.TypeProgress:
			var pr output.ProgressRecord
			require.NoError(t, json.Unmarshal(rec.Data, &pr))
			progress = append(progress, pr)
		case output.TypeSummary:
			require.NoError(t, json.Unmarshal(rec.Data, &summary))
		}
	}

	// Both stale downloads start together, so the first completion
	// still sees its sibling in flight and the last sees nothing.
	require.Len(t, progress, 2)
	assert.Len(t, progress[0].Running, 1)
	assert.Empty(t, progress[1].Running)
	assert.Equal(t, 2, progress[1].Completed)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Fresh)
}
