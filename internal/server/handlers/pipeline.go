package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/bioforge/alnpipe/internal/server/middleware"
	"github.com/bioforge/alnpipe/pkg/ledger"
	"github.com/bioforge/alnpipe/pkg/manifest"
	"github.com/bioforge/alnpipe/pkg/pipeline"
	"github.com/bioforge/alnpipe/pkg/resolve"
)

// PipelineState serves read-only views of one pipeline.
//
// The manifest is re-read on every request so the server always
// reflects the current on-disk state; a pipeline manifest is small and
// the ledger is a single JSON file, so this costs little and avoids
// cache invalidation entirely.
type PipelineState struct {
	ManifestPath string
}

// LedgerResponse is the JSON body of the ledger endpoint.
type LedgerResponse struct {
	Path    string         `json:"path"`
	Entries []ledger.Entry `json:"entries"`
}

// TargetStatus is one row of the targets endpoint.
type TargetStatus struct {
	Target      string `json:"target"`
	Kind        string `json:"kind"`
	Subject     string `json:"subject"`
	Stale       bool   `json:"stale"`
	Reason      string `json:"reason,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// TargetsResponse is the JSON body of the targets endpoint.
type TargetsResponse struct {
	Total   int            `json:"total"`
	Stale   int            `json:"stale"`
	Targets []TargetStatus `json:"targets"`
}

func (s *PipelineState) load() (*pipeline.Graph, *ledger.Ledger, error) {
	m, err := manifest.Load(s.ManifestPath)
	if err != nil {
		return nil, nil, err
	}
	graph, err := pipeline.Build(m.ToSpec())
	if err != nil {
		return nil, nil, err
	}
	led, err := ledger.Open(m.Run.Ledger)
	if err != nil {
		return nil, nil, err
	}
	return graph, led, nil
}

// LedgerHandler serves the raw run ledger.
func (s *PipelineState) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	_, led, err := s.load()
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "PIPELINE_LOAD_FAILED", err.Error())
		return
	}

	entries := led.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Target < entries[j].Target })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(LedgerResponse{
		Path:    led.Path(),
		Entries: entries,
	})
}

// TargetsHandler serves per-target staleness and last-run state.
func (s *PipelineState) TargetsHandler(w http.ResponseWriter, r *http.Request) {
	graph, led, err := s.load()
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "PIPELINE_LOAD_FAILED", err.Error())
		return
	}

	plan, err := resolve.Resolve(graph, led)
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "RESOLVE_FAILED", err.Error())
		return
	}

	resp := TargetsResponse{
		Total:   graph.Len(),
		Stale:   len(plan.StaleIDs),
		Targets: make([]TargetStatus, 0, graph.Len()),
	}
	for _, id := range graph.TopologicalOrder() {
		t := graph.Target(id)
		d := plan.Decisions[id]
		ts := TargetStatus{
			Target:  t.Name,
			Kind:    string(t.Kind),
			Subject: t.Subject,
			Stale:   d.Stale,
		}
		if d.Stale {
			ts.Reason = string(d.Reason)
		}
		if e, ok := led.Get(t.Name); ok {
			ts.LastStatus = string(e.Status)
			ts.CompletedAt = e.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		resp.Targets = append(resp.Targets, ts)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// CheckHealth implements Checker: the pipeline is healthy when the
// manifest parses and the ledger is readable.
func (s *PipelineState) CheckHealth(ctx context.Context) error {
	_, _, err := s.load()
	return err
}
