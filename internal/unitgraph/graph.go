// Package unitgraph implements C3, the unit graph planner: it lowers a
// resolved dependency graph (internal/resolver's manifest.Resolve) into a
// DAG of compilation units, generalizing the teacher's Plan/Target
// (internal/build/plan.go) from a flat string-keyed DAG to full Unit
// identity, Metadata/All artifact edges, proc-macro host-kind forcing and
// build-script (RunCustomBuild) units. Built over
// gonum.org/v1/gonum/graph/simple + graph/topo rather than the teacher's
// hand-rolled DFS, per the domain-stack wiring in SPEC_FULL.md.
package unitgraph

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/unit"
)

// ManifestProvider resolves a PackageID to its loaded manifest. Parsing the
// on-disk manifest format is an external concern (manifest.Manifest's doc
// comment); the planner only consumes the result, usually backed by a
// cache in front of the registry.Client's Download.
type ManifestProvider interface {
	Manifest(id manifest.PackageID) (manifest.Manifest, error)
}

// Edge annotates one dependency edge between units with the artifact kind
// the consumer needs and the declared name the edge was reached through
// (used for spec's deterministic (depname, PackageId) edge ordering).
type Edge struct {
	From, To unit.Unit
	Kind     unit.ArtifactKind
	DepName  string
}

// Graph is the lowered, deterministic unit DAG for one planning run.
type Graph struct {
	g     *simple.DirectedGraph
	ids   map[string]int64
	units map[int64]*unit.Unit
	edges map[int64][]Edge
	next  int64
}

func newGraph() *Graph {
	return &Graph{
		g:     simple.NewDirectedGraph(),
		ids:   make(map[string]int64),
		units: make(map[int64]*unit.Unit),
		edges: make(map[int64][]Edge),
	}
}

func (g *Graph) getOrAdd(u unit.Unit) int64 {
	key := u.Key()
	if id, ok := g.ids[key]; ok {
		return id
	}
	id := g.next
	g.next++
	g.ids[key] = id
	cp := u
	g.units[id] = &cp
	g.g.AddNode(simple.Node(id))
	return id
}

func (g *Graph) addEdge(from, to int64, kind unit.ArtifactKind, depName string) {
	if !g.g.HasEdgeFromTo(from, to) {
		g.g.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
	}
	g.edges[from] = append(g.edges[from], Edge{From: *g.units[from], To: *g.units[to], Kind: kind, DepName: depName})
}

// Units returns every unit in the graph, sorted by Key for reproducible
// iteration (spec P1/P4).
func (g *Graph) Units() []unit.Unit {
	out := make([]unit.Unit, 0, len(g.units))
	for _, u := range g.units {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Leaves returns every unit with no outstanding dependencies (no outgoing
// edges), sorted by Key — the initial ready set a scheduler can dispatch
// immediately.
func (g *Graph) Leaves() []unit.Unit {
	var out []unit.Unit
	for id, u := range g.units {
		if g.g.From(id).Len() == 0 {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Dependents returns every unit that directly depends on u (the reverse of
// Dependencies), sorted by Key.
func (g *Graph) Dependents(u unit.Unit) []unit.Unit {
	id, ok := g.ids[u.Key()]
	if !ok {
		return nil
	}
	var out []unit.Unit
	to := g.g.To(id)
	for to.Next() {
		out = append(out, *g.units[to.Node().ID()])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of units in the graph.
func (g *Graph) Len() int { return len(g.units) }

// Dependencies returns the outgoing edges of u, sorted by (DepName,
// PackageId) per spec.md §4.3's determinism requirement.
func (g *Graph) Dependencies(u unit.Unit) []Edge {
	id, ok := g.ids[u.Key()]
	if !ok {
		return nil
	}
	out := append([]Edge(nil), g.edges[id]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DepName != out[j].DepName {
			return out[i].DepName < out[j].DepName
		}
		return manifest.Less(out[i].To.Pkg, out[j].To.Pkg)
	})
	return out
}

// UpgradeArtifactEdges promotes every Metadata edge reachable from a unit
// that itself requires a linked upstream object — a bin/test/bench/example,
// a staticlib/cdylib, or a proc-macro — to an All edge. Once such a unit
// needs real codegen rather than just type metadata, everything it
// transitively depends on must produce real codegen too, per spec.md §3
// invariant #3: "reachable from a unit requiring upstream objects" forces
// All along the whole subgraph, not just the unit's direct edges.
func (g *Graph) UpgradeArtifactEdges() {
	for id, u := range g.units {
		if !requiresUpstreamObject(*u) {
			continue
		}
		g.upgradeReachable(id, make(map[int64]bool))
	}
}

func requiresUpstreamObject(u unit.Unit) bool {
	return u.Target.ProducesUpstreamObject() || u.Target.IsProcMacro()
}

func (g *Graph) upgradeReachable(id int64, visited map[int64]bool) {
	if visited[id] {
		return
	}
	visited[id] = true
	for i := range g.edges[id] {
		e := &g.edges[id][i]
		if e.Kind == unit.ArtifactMetadata {
			e.Kind = unit.ArtifactAll
		}
		toID, ok := g.ids[e.To.Key()]
		if !ok {
			continue
		}
		g.upgradeReachable(toID, visited)
	}
}

// TopoOrder returns units in dependency-first (topological) order, or a
// *errs.Error with Code Cycle naming every unit in the first strongly
// connected component gonum's topo.Sort reports as unorderable.
func (g *Graph) TopoOrder() ([]unit.Unit, error) {
	sorted, err := topo.Sort(g.g)
	if err == nil {
		// topo.Sort puts an edge's From (the dependent) before its To.
		for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
			sorted[i], sorted[j] = sorted[j], sorted[i]
		}
		return idsToUnits(g, sorted), nil
	}
	var unordered topo.Unorderable
	if !asUnorderable(err, &unordered) || len(unordered) == 0 {
		return nil, errs.New(errs.FamilyPlan, errs.Cycle, "unit graph is not a DAG", nil)
	}
	cyclic := unordered[0]
	names := make([]string, 0, len(cyclic))
	for _, n := range cyclic {
		names = append(names, g.units[n.ID()].String())
	}
	return nil, errs.New(errs.FamilyPlan, errs.Cycle,
		fmt.Sprintf("unit dependency cycle: %v", names),
		map[string]any{"cycle": names})
}

func asUnorderable(err error, out *topo.Unorderable) bool {
	u, ok := err.(topo.Unorderable)
	if !ok {
		return false
	}
	*out = u
	return true
}

func idsToUnits(g *Graph, nodes []graph.Node) []unit.Unit {
	out := make([]unit.Unit, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, *g.units[n.ID()])
	}
	return out
}
