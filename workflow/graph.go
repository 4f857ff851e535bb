package workflow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// Edge is a directed dependency: To requires From completed first.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphSnapshot is a read-only export of a graph's committed state. Node and
// edge lists are sorted so snapshots compare deterministically.
type GraphSnapshot struct {
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// Graph is the dependency graph of one run: a node-id set plus a directed
// adjacency map with set semantics. Every mutating operation is
// all-or-nothing: a rejected operation leaves the graph unchanged. Snapshot
// reads may run concurrently with writers and observe only committed states.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]struct{}
	edges map[string]map[string]struct{}
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]struct{}),
		edges: make(map[string]map[string]struct{}),
	}
}

// AddNode adds a node. Duplicate ids are rejected so callers never silently
// merge two agents under one identifier.
func (g *Graph) AddNode(id string) error {
	if id == "" {
		return types.NewError(types.ErrGraphInvariant, "node id must be non-empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; ok {
		return types.NewError(types.ErrGraphInvariant, fmt.Sprintf("node %q already exists", id))
	}
	g.nodes[id] = struct{}{}
	return nil
}

// RemoveNode drops the node together with its outgoing edges and any edge
// targeting it from elsewhere.
func (g *Graph) RemoveNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return types.NewError(types.ErrGraphInvariant, fmt.Sprintf("unknown node %q", id))
	}
	delete(g.nodes, id)
	delete(g.edges, id)
	for _, targets := range g.edges {
		delete(targets, id)
	}
	return nil
}

// AddEdge adds a directed edge from → to. Rejected if either endpoint is
// missing, the edge is a self-loop, or it would create a cycle. Adding an
// edge that already exists is a no-op (set semantics).
func (g *Graph) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return types.NewError(types.ErrGraphInvariant, fmt.Sprintf("unknown edge source %q", from))
	}
	if _, ok := g.nodes[to]; !ok {
		return types.NewError(types.ErrGraphInvariant, fmt.Sprintf("unknown edge target %q", to))
	}
	if from == to {
		return types.NewError(types.ErrGraphInvariant, fmt.Sprintf("self-loop on %q", from))
	}
	if g.edges[from] != nil {
		if _, ok := g.edges[from][to]; ok {
			return nil
		}
	}
	if g.hasPath(to, from, make(map[string]struct{})) {
		return types.NewError(types.ErrGraphInvariant,
			fmt.Sprintf("edge %s -> %s would create a cycle", from, to))
	}
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]struct{})
	}
	g.edges[from][to] = struct{}{}
	return nil
}

// RemoveEdge drops the edge from → to.
func (g *Graph) RemoveEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if targets, ok := g.edges[from]; ok {
		if _, ok := targets[to]; ok {
			delete(targets, to)
			return nil
		}
	}
	return types.NewError(types.ErrGraphInvariant, fmt.Sprintf("edge %s -> %s not found", from, to))
}

// hasPath reports whether target is reachable from current. Callers hold the
// lock.
func (g *Graph) hasPath(current, target string, visited map[string]struct{}) bool {
	if current == target {
		return true
	}
	if _, seen := visited[current]; seen {
		return false
	}
	visited[current] = struct{}{}
	for next := range g.edges[current] {
		if g.hasPath(next, target, visited) {
			return true
		}
	}
	return false
}

// HasNode reports whether the node exists.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the node count.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Children returns the direct dependents of a node, sorted.
func (g *Graph) Children(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.edges[id]))
	for to := range g.edges[id] {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

// Parents returns the direct dependencies of a node, sorted.
func (g *Graph) Parents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for from, targets := range g.edges {
		if _, ok := targets[id]; ok {
			out = append(out, from)
		}
	}
	sort.Strings(out)
	return out
}

// Roots returns the nodes with no incoming edges, sorted. These are the
// entry points of the run.
func (g *Graph) Roots() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	inbound := make(map[string]struct{})
	for _, targets := range g.edges {
		for to := range targets {
			inbound[to] = struct{}{}
		}
	}
	var out []string
	for id := range g.nodes {
		if _, ok := inbound[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// NodeIDs returns all node ids, sorted.
func (g *Graph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Export returns a sorted snapshot of the committed node and edge sets.
func (g *Graph) Export() GraphSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	snap := GraphSnapshot{Nodes: make([]string, 0, len(g.nodes))}
	for id := range g.nodes {
		snap.Nodes = append(snap.Nodes, id)
	}
	sort.Strings(snap.Nodes)
	for from, targets := range g.edges {
		for to := range targets {
			snap.Edges = append(snap.Edges, Edge{From: from, To: to})
		}
	}
	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].From != snap.Edges[j].From {
			return snap.Edges[i].From < snap.Edges[j].From
		}
		return snap.Edges[i].To < snap.Edges[j].To
	})
	return snap
}

// Clone returns a deep copy sharing no state with the receiver. Delegation
// mutates a clone and swaps it in only after all checks pass.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c := NewGraph()
	for id := range g.nodes {
		c.nodes[id] = struct{}{}
	}
	for from, targets := range g.edges {
		set := make(map[string]struct{}, len(targets))
		for to := range targets {
			set[to] = struct{}{}
		}
		c.edges[from] = set
	}
	return c
}

// replaceWith commits another graph's state into the receiver in one write
// section, so concurrent snapshot readers never observe a half-applied
// mutation.
func (g *Graph) replaceWith(other *Graph) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = other.nodes
	g.edges = other.edges
}

// TopologicalSort returns a dependency-respecting order of all nodes, ties
// broken lexicographically for determinism. A cycle yields an error; AddEdge
// makes that unreachable, but delegation re-verifies through this method.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for _, targets := range g.edges {
		for to := range targets {
			inDegree[to]++
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var freed []string
		for to := range g.edges[id] {
			inDegree[to]--
			if inDegree[to] == 0 {
				freed = append(freed, to)
			}
		}
		sort.Strings(freed)
		queue = append(queue, freed...)
	}

	if len(order) != len(g.nodes) {
		return nil, types.NewError(types.ErrGraphInvariant, "cycle detected in graph")
	}
	return order, nil
}
