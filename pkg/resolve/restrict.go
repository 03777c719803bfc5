package resolve

import "github.com/bioforge/alnpipe/pkg/pipeline"

// Restrict narrows a plan to the targets accepted by selected, plus
// the stale upstream closure each accepted target needs to be built
// correctly. Fresh dependencies are not re-run; stale ones are always
// included, selected or not, so a restricted run can never consume
// out-of-date inputs.
//
// Decisions are shared with the original plan.
func (p *Plan) Restrict(g *pipeline.Graph, selected func(name string) bool) *Plan {
	stale := make(map[int]bool, len(p.StaleIDs))
	for _, id := range p.StaleIDs {
		stale[id] = true
	}

	keep := make(map[int]bool, len(p.StaleIDs))
	var include func(id int)
	include = func(id int) {
		if keep[id] || !stale[id] {
			return
		}
		keep[id] = true
		for _, up := range g.Upstream(id) {
			include(up)
		}
	}

	for _, id := range p.StaleIDs {
		if selected(g.Target(id).Name) {
			include(id)
		}
	}

	return &Plan{
		StaleIDs:  g.InducedOrder(keep),
		Decisions: p.Decisions,
	}
}
