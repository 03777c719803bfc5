package pipeline

import "sort"

// Graph is a validated, immutable DAG of pipeline targets.
//
// Ids are dense in [0, Len) and follow declaration order, which makes
// them usable as stable tie-breakers for deterministic scheduling.
type Graph struct {
	targets []Target

	byName     map[string]int
	byOutput   map[string]int // output path -> producing target id
	upstream   [][]int        // by id, sorted ascending
	downstream [][]int        // by id, sorted ascending
	topo       []int
}

// NewGraph validates targets and wires producer->consumer edges by
// matching declared outputs to declared inputs.
//
// An input path with no producing target is treated as an external
// source file, not an edge. Fails with a ConfigurationError on duplicate
// target names or duplicate output producers, and with a CycleError when
// the wired graph is cyclic.
func NewGraph(targets []Target) (*Graph, error) {
	g := &Graph{
		targets:  targets,
		byName:   make(map[string]int, len(targets)),
		byOutput: make(map[string]int),
	}

	for id, t := range targets {
		if t.Name == "" {
			return nil, &ConfigurationError{Target: "(unnamed)", Reason: "target name is required"}
		}
		if !t.Kind.Valid() {
			return nil, &ConfigurationError{Target: t.Name, Reason: "unknown step kind " + string(t.Kind)}
		}
		if _, dup := g.byName[t.Name]; dup {
			return nil, &ConfigurationError{Target: t.Name, Reason: "duplicate target name"}
		}
		g.byName[t.Name] = id

		if len(t.Outputs) == 0 {
			return nil, &ConfigurationError{Target: t.Name, Reason: "target declares no outputs"}
		}
		for _, out := range t.Outputs {
			if producer, dup := g.byOutput[out]; dup {
				return nil, &ConfigurationError{
					Target: t.Name,
					Path:   out,
					Reason: "output already produced by target " + targets[producer].Name,
				}
			}
			g.byOutput[out] = id
		}
	}

	g.upstream = make([][]int, len(targets))
	g.downstream = make([][]int, len(targets))
	for id, t := range targets {
		seen := make(map[int]bool)
		for _, in := range t.Inputs {
			producer, ok := g.byOutput[in]
			if !ok {
				continue // external source file
			}
			if producer == id {
				return nil, &ConfigurationError{Target: t.Name, Path: in, Reason: "target consumes its own output"}
			}
			if seen[producer] {
				continue
			}
			seen[producer] = true
			g.upstream[id] = append(g.upstream[id], producer)
			g.downstream[producer] = append(g.downstream[producer], id)
		}
	}
	for id := range targets {
		sort.Ints(g.upstream[id])
		sort.Ints(g.downstream[id])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Members: g.Names(cycle)}
	}

	g.topo = g.topoOrder()
	return g, nil
}

// Len returns the number of targets in the graph.
func (g *Graph) Len() int { return len(g.targets) }

// Target returns the target with the given id.
func (g *Graph) Target(id int) Target { return g.targets[id] }

// Lookup returns the id of the target with the given name.
func (g *Graph) Lookup(name string) (int, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// Producer returns the id of the target that declares path as an
// output. The second result is false for external source files.
func (g *Graph) Producer(path string) (int, bool) {
	id, ok := g.byOutput[path]
	return id, ok
}

// Upstream returns the ids of the direct dependencies of id.
func (g *Graph) Upstream(id int) []int { return g.upstream[id] }

// Downstream returns the ids of the direct dependents of id.
func (g *Graph) Downstream(id int) []int { return g.downstream[id] }

// TopologicalOrder returns all ids in a deterministic topological
// order: every dependency precedes its dependents, and ties among
// independent targets follow declaration order.
func (g *Graph) TopologicalOrder() []int {
	out := make([]int, len(g.topo))
	copy(out, g.topo)
	return out
}

// Names maps ids to target names, preserving order.
func (g *Graph) Names(ids []int) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, g.targets[id].Name)
	}
	return names
}

// findCycle runs a three-color depth-first traversal and returns the
// members of the first cycle found, or nil when the graph is acyclic.
func (g *Graph) findCycle() []int {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make([]int, len(g.targets))
	var path []int
	var cycle []int

	var visit func(id int) bool
	visit = func(id int) bool {
		color[id] = gray
		path = append(path, id)
		for _, next := range g.downstream[id] {
			switch color[next] {
			case gray:
				// Found: slice the current path from the first
				// occurrence of next.
				for i, p := range path {
					if p == next {
						cycle = append(cycle, path[i:]...)
						cycle = append(cycle, next)
						return true
					}
				}
			case white:
				if visit(next) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for id := range g.targets {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// topoOrder is Kahn's algorithm with a declaration-ordered frontier.
// Only called on acyclic graphs.
func (g *Graph) topoOrder() []int {
	indeg := make([]int, len(g.targets))
	for id := range g.targets {
		indeg[id] = len(g.upstream[id])
	}

	frontier := make([]int, 0, len(g.targets))
	for id := range g.targets {
		if indeg[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	order := make([]int, 0, len(g.targets))
	for len(frontier) > 0 {
		// Lowest id first keeps the order stable across runs.
		sort.Ints(frontier)
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)
		for _, next := range g.downstream[id] {
			indeg[next]--
			if indeg[next] == 0 {
				frontier = append(frontier, next)
			}
		}
	}
	return order
}

// InducedOrder filters the graph's topological order down to the given
// id set, preserving relative order.
func (g *Graph) InducedOrder(ids map[int]bool) []int {
	out := make([]int, 0, len(ids))
	for _, id := range g.topo {
		if ids[id] {
			out = append(out, id)
		}
	}
	return out
}
