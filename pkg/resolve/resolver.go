// Package resolve computes which pipeline targets are out of date.
//
// A target is compared against the filesystem (missing or outdated
// outputs) and against the run ledger (changed fingerprint, recorded
// failure), and staleness propagates monotonically downstream: anything
// depending on a stale target is stale too.
package resolve

import (
	"fmt"
	"os"
	"time"

	"github.com/bioforge/alnpipe/pkg/ledger"
	"github.com/bioforge/alnpipe/pkg/pipeline"
)

// Reason explains why a target was marked stale.
type Reason string

const (
	// ReasonMissingOutput: one or more declared outputs do not exist.
	ReasonMissingOutput Reason = "missing-output"

	// ReasonStaleInput: an output is older than one of the inputs.
	ReasonStaleInput Reason = "stale-input"

	// ReasonMissingSource: an input that no target produces does not
	// exist on disk. The run will fail unless the file appears first.
	ReasonMissingSource Reason = "missing-source"

	// ReasonFingerprint: the ledger's stored fingerprint differs from
	// the target's current command/configuration.
	ReasonFingerprint Reason = "fingerprint-changed"

	// ReasonLastRunFailed: the ledger records a failure; no success has
	// been observed for the current outputs.
	ReasonLastRunFailed Reason = "last-run-failed"

	// ReasonUpstreamStale: a dependency is stale, so this target's
	// inputs are about to be regenerated.
	ReasonUpstreamStale Reason = "upstream-stale"
)

// Decision is the per-target staleness verdict for one resolve pass.
// Decisions are computed fresh each run and never persisted.
type Decision struct {
	Target string
	Stale  bool
	Reason Reason
}

// Plan is the ordered rebuild set produced by Resolve.
type Plan struct {
	// StaleIDs holds the ids of stale targets in a topological order of
	// the induced subgraph: a target never precedes its stale
	// dependencies. Ties among independent targets follow declaration
	// order.
	StaleIDs []int

	// Decisions maps target id to its verdict, for every target in the
	// graph (fresh targets included, with Stale=false).
	Decisions map[int]Decision
}

// Resolve computes the minimal ordered set of targets that must run.
//
// led may be nil (stateless mode): fingerprint and failure history are
// then not consulted and staleness is decided from the filesystem alone.
func Resolve(g *pipeline.Graph, led *ledger.Ledger) (*Plan, error) {
	plan := &Plan{Decisions: make(map[int]Decision, g.Len())}
	stale := make(map[int]bool, g.Len())

	for _, id := range g.TopologicalOrder() {
		t := g.Target(id)
		decision := Decision{Target: t.Name}

		if reason, isStale := upstreamStale(g, id, stale); isStale {
			decision.Stale, decision.Reason = true, reason
		} else if reason, isStale, err := selfStale(g, t, led); err != nil {
			return nil, err
		} else if isStale {
			decision.Stale, decision.Reason = true, reason
		}

		if decision.Stale {
			stale[id] = true
		}
		plan.Decisions[id] = decision
	}

	plan.StaleIDs = g.InducedOrder(stale)
	return plan, nil
}

func upstreamStale(g *pipeline.Graph, id int, stale map[int]bool) (Reason, bool) {
	for _, up := range g.Upstream(id) {
		if stale[up] {
			return ReasonUpstreamStale, true
		}
	}
	return "", false
}

// selfStale applies the local staleness rules, ignoring dependencies.
func selfStale(g *pipeline.Graph, t pipeline.Target, led *ledger.Ledger) (Reason, bool, error) {
	oldestOutput, missing, err := oldestMtime(t.Outputs)
	if err != nil {
		return "", false, fmt.Errorf("target %s: %w", t.Name, err)
	}
	if missing {
		return ReasonMissingOutput, true, nil
	}

	if led != nil {
		if e, ok := led.Get(t.Name); ok {
			if e.Status == ledger.StatusFailed {
				return ReasonLastRunFailed, true, nil
			}
			if e.Fingerprint != ledger.Fingerprint(t) {
				return ReasonFingerprint, true, nil
			}
		}
	}

	// A target with no inputs is permanently fresh once built, unless
	// its fingerprint changed above.
	if len(t.Inputs) == 0 {
		return "", false, nil
	}

	newestInput, missingInput, err := newestMtime(t.Inputs)
	if err != nil {
		return "", false, fmt.Errorf("target %s: %w", t.Name, err)
	}
	if missingInput != "" {
		// A missing input that some target produces belongs to a stale
		// upstream (handled there). One nothing produces is a source
		// file the user must supply.
		if _, produced := g.Producer(missingInput); !produced {
			return ReasonMissingSource, true, nil
		}
		return ReasonStaleInput, true, nil
	}
	if oldestOutput.Before(newestInput) {
		return ReasonStaleInput, true, nil
	}
	return "", false, nil
}

func oldestMtime(paths []string) (time.Time, bool, error) {
	var oldest time.Time
	for i, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return time.Time{}, true, nil
			}
			return time.Time{}, false, fmt.Errorf("stat %s: %w", p, err)
		}
		if i == 0 || info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
	}
	return oldest, false, nil
}

// newestMtime returns the newest mtime of paths, or the first path
// that does not exist.
func newestMtime(paths []string) (time.Time, string, error) {
	var newest time.Time
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return time.Time{}, p, nil
			}
			return time.Time{}, "", fmt.Errorf("stat %s: %w", p, err)
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, "", nil
}
