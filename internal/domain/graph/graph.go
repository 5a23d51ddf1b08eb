// Package graph implements the dependency graph substrate shared by the
// planner and executor: a directed graph over stack logical names with
// cycle detection and a bounded-concurrency per-vertex walker.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Graph is a directed graph keyed by logical node name. Edges point from a
// node to the nodes it depends on (its predecessors must complete first).
type Graph struct {
	nodes map[string]struct{}
	order []string // insertion order, used to break dispatch ties stably
	edges map[string]map[string]struct{} // node -> set of dependencies
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]struct{}),
		edges: make(map[string]map[string]struct{}),
	}
}

// AddNode registers a node. Adding the same node twice is a no-op. Nodes
// are dispatched and listed in the order they were added (spec §4.4:
// "tie-breaking between otherwise-ready steps is stable by config order").
func (g *Graph) AddNode(name string) {
	if _, ok := g.nodes[name]; ok {
		return
	}
	g.nodes[name] = struct{}{}
	g.order = append(g.order, name)
	g.edges[name] = make(map[string]struct{})
}

// Connect records that `from` depends on `to`. Both nodes must already
// exist; Connect panics on an unknown node since callers always AddNode
// first when building the graph from a resolved plan.
func (g *Graph) Connect(from, to string) {
	if _, ok := g.nodes[from]; !ok {
		panic(fmt.Sprintf("graph: unknown node %q", from))
	}
	if _, ok := g.nodes[to]; !ok {
		panic(fmt.Sprintf("graph: unknown node %q", to))
	}
	if from == to {
		return
	}
	g.edges[from][to] = struct{}{}
}

// RemoveNode drops a node and any edges referencing it.
func (g *Graph) RemoveNode(name string) {
	delete(g.nodes, name)
	delete(g.edges, name)
	for _, deps := range g.edges {
		delete(deps, name)
	}
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Nodes returns all node names in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for _, n := range g.order {
		if _, ok := g.nodes[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// NodesSorted returns all node names in lexical order, independent of
// insertion order. The DOT and JSON serializers use Nodes (insertion
// order), not this.
func (g *Graph) NodesSorted() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the sorted set of nodes that `name` directly depends
// on.
func (g *Graph) Dependencies(name string) []string {
	deps := g.edges[name]
	out := make([]string, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Dependents returns the sorted set of nodes that directly depend on `name`.
func (g *Graph) Dependents(name string) []string {
	out := make([]string, 0)
	for n, deps := range g.edges {
		if _, ok := deps[name]; ok {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Ancestors returns every node reachable by following dependency edges
// transitively from `name` (everything `name` directly or indirectly
// depends on).
func (g *Graph) Ancestors(name string) []string {
	visited := make(map[string]struct{})
	var walk func(n string)
	walk = func(n string) {
		for d := range g.edges[n] {
			if _, ok := visited[d]; ok {
				continue
			}
			visited[d] = struct{}{}
			walk(d)
		}
	}
	walk(name)
	out := make([]string, 0, len(visited))
	for n := range visited {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Descendants returns every node that transitively depends on `name`.
func (g *Graph) Descendants(name string) []string {
	visited := make(map[string]struct{})
	var walk func(n string)
	walk = func(n string) {
		for _, d := range g.Dependents(n) {
			if _, ok := visited[d]; ok {
				continue
			}
			visited[d] = struct{}{}
			walk(d)
		}
	}
	walk(name)
	out := make([]string, 0, len(visited))
	for n := range visited {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Filter returns a new graph containing only the given nodes and the edges
// between them (edges to nodes outside the set are dropped).
func (g *Graph) Filter(keep []string) *Graph {
	keepSet := make(map[string]struct{}, len(keep))
	for _, n := range keep {
		keepSet[n] = struct{}{}
	}
	out := New()
	for n := range keepSet {
		if _, ok := g.nodes[n]; ok {
			out.AddNode(n)
		}
	}
	for n := range keepSet {
		for d := range g.edges[n] {
			if _, ok := keepSet[d]; ok {
				out.Connect(n, d)
			}
		}
	}
	return out
}

// Invert returns a new graph with every edge reversed, used by the planner
// to build the destroy ordering (spec §4.4 step 7).
func (g *Graph) Invert() *Graph {
	out := New()
	for n := range g.nodes {
		out.AddNode(n)
	}
	for n, deps := range g.edges {
		for d := range deps {
			out.Connect(d, n)
		}
	}
	return out
}

// TransitiveReduction returns a copy of the graph with redundant edges
// removed: an edge from -> to is redundant if some other path already
// connects from to to.
func (g *Graph) TransitiveReduction() *Graph {
	out := New()
	for n := range g.nodes {
		out.AddNode(n)
	}
	for n := range g.nodes {
		for d := range g.edges[n] {
			if g.reachableExcluding(n, d, d) {
				continue
			}
			out.Connect(n, d)
		}
	}
	return out
}

func (g *Graph) reachableExcluding(from, target, excludeDirect string) bool {
	visited := map[string]struct{}{from: {}}
	var walk func(n string) bool
	walk = func(n string) bool {
		for d := range g.edges[n] {
			if n == from && d == excludeDirect {
				continue
			}
			if d == target {
				return true
			}
			if _, ok := visited[d]; ok {
				continue
			}
			visited[d] = struct{}{}
			if walk(d) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// Validate checks the graph for cycles using depth-first search with a
// recursion stack, enumerating every distinct cycle found rather than
// stopping at the first one (spec §4.4 step 5: CircularDependency must
// list all cycles).
func (g *Graph) Validate() error {
	const (
		white = 0 // unvisited
		gray  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(g.nodes))
	var cycles [][]string

	var visit func(n string, stack []string)
	visit = func(n string, stack []string) {
		color[n] = gray
		stack = append(stack, n)
		deps := g.Dependencies(n)
		for _, d := range deps {
			switch color[d] {
			case white:
				visit(d, stack)
			case gray:
				cycles = append(cycles, extractCycle(stack, d))
			}
		}
		color[n] = black
	}

	for _, n := range g.Nodes() {
		if color[n] == white {
			visit(n, nil)
		}
	}

	if len(cycles) > 0 {
		return &CycleError{Cycles: cycles}
	}
	return nil
}

func extractCycle(stack []string, repeat string) []string {
	for i, n := range stack {
		if n == repeat {
			cycle := append([]string(nil), stack[i:]...)
			return append(cycle, repeat)
		}
	}
	return append(append([]string(nil), stack...), repeat)
}

// CycleError reports every cycle found during Validate.
type CycleError struct {
	Cycles [][]string
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		parts = append(parts, strings.Join(c, " -> "))
	}
	return fmt.Sprintf("circular dependency: %s", strings.Join(parts, "; "))
}

// edgeJSON is the wire shape for JSON serialization: node -> dependencies.
type edgeJSON map[string][]string

// MarshalJSON renders the graph as an adjacency map, matching the shape the
// Persistent Graph Store persists to S3 (spec §4.4 step 6).
func (g *Graph) MarshalJSON() ([]byte, error) {
	out := make(edgeJSON, len(g.nodes))
	for _, n := range g.Nodes() {
		out[n] = g.Dependencies(n)
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds a graph from the adjacency-map wire shape.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var raw edgeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	g.nodes = make(map[string]struct{})
	g.edges = make(map[string]map[string]struct{})
	for n := range raw {
		g.AddNode(n)
	}
	for n, deps := range raw {
		for _, d := range deps {
			g.AddNode(d)
			g.Connect(n, d)
		}
	}
	return nil
}

// DOT renders the graph in Graphviz DOT format for `stackctl graph` (spec §6).
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph stackset {\n")
	for _, n := range g.Nodes() {
		b.WriteString(fmt.Sprintf("  %q;\n", n))
	}
	for _, n := range g.Nodes() {
		for _, d := range g.Dependencies(n) {
			b.WriteString(fmt.Sprintf("  %q -> %q;\n", n, d))
		}
	}
	b.WriteString("}\n")
	return b.String()
}
