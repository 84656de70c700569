// SPDX-License-Identifier: MPL-2.0

// Package dag provides the workspace dependency graph: an arena of named
// nodes with edges stored as index pairs, cycle detection, topological
// ordering and the layered "wave" decomposition used for publishing.
//
// An edge from A to B means "A must be released before B", that is, B depends
// on A. All results are deterministic: ties are always broken by node name.
package dag

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrCyclicDependency is the sentinel wrapped by CycleError.
var ErrCyclicDependency = errors.New("cyclic dependency")

type (
	// CycleError indicates that the graph contains a cycle, preventing
	// topological ordering. It wraps ErrCyclicDependency.
	CycleError struct {
		// Cycle lists the nodes of one cycle in "depends on" order, starting
		// and ending with the same node.
		Cycle []string
	}

	// Graph is a directed graph over named nodes. Nodes live in an arena and
	// are addressed by their index; edges are stored as index pairs in both
	// directions so traversals never need recursive object references.
	Graph struct {
		names []string
		index map[string]int
		// out[i] holds the dependents of i, in[i] its dependencies. Both are
		// kept sorted by node name.
		out [][]int
		in  [][]int
	}

	// dfsFrame is one entry of the explicit DFS stack: a node and the index
	// of the next outgoing edge to explore.
	dfsFrame struct {
		node int
		next int
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Unwrap returns ErrCyclicDependency for errors.Is() compatibility.
func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

// New creates a Graph containing the given nodes.
func New(nodes ...string) *Graph {
	g := &Graph{index: make(map[string]int, len(nodes))}
	for _, n := range nodes {
		g.AddNode(n)
	}
	return g
}

// AddNode adds a node to the graph and returns its index. If the node already
// exists, its existing index is returned.
func (g *Graph) AddNode(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	i := len(g.names)
	g.names = append(g.names, name)
	g.index[name] = i
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return i
}

// AddEdge adds a directed edge from -> to, meaning "to" depends on "from".
// Both nodes are implicitly added if they don't exist. Duplicate edges are
// ignored.
func (g *Graph) AddEdge(from, to string) {
	f, t := g.AddNode(from), g.AddNode(to)
	g.out[f] = g.insertSorted(g.out[f], t)
	g.in[t] = g.insertSorted(g.in[t], f)
}

func (g *Graph) insertSorted(list []int, v int) []int {
	pos, found := slices.BinarySearchFunc(list, v, g.byName)
	if found {
		return list
	}
	return slices.Insert(list, pos, v)
}

func (g *Graph) byName(a, b int) int { return cmp.Compare(g.names[a], g.names[b]) }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.names) }

// Has reports whether the node exists.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Nodes returns every node name, sorted.
func (g *Graph) Nodes() []string {
	out := slices.Clone(g.names)
	slices.Sort(out)
	return out
}

// Dependencies returns the direct dependencies of name, sorted.
func (g *Graph) Dependencies(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	return g.namesOf(g.in[i])
}

// Dependents returns the direct dependents of name, sorted.
func (g *Graph) Dependents(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	return g.namesOf(g.out[i])
}

func (g *Graph) namesOf(ids []int) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for k, id := range ids {
		out[k] = g.names[id]
	}
	return out
}

// Reachable returns every node reachable from the given roots by following
// edges, that is, every transitive dependent. Roots themselves are excluded
// unless reachable from another root. The result is sorted.
func (g *Graph) Reachable(roots ...string) []string {
	seen := make([]bool, len(g.names))
	var stack []int
	for _, r := range roots {
		if i, ok := g.index[r]; ok {
			stack = append(stack, g.out[i]...)
		}
	}
	var result []string
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		result = append(result, g.names[n])
		stack = append(stack, g.out[n]...)
	}
	slices.Sort(result)
	return result
}

// DependsOn reports whether dependent transitively depends on dependency.
func (g *Graph) DependsOn(dependent, dependency string) bool {
	return slices.Contains(g.Reachable(dependency), dependent)
}

// Restrict returns a new graph over the nodes accepted by keep. An edge A -> B
// is present in the result whenever B depends on A in g, directly or through
// nodes that were dropped, so the ordering constraints of g are preserved.
func (g *Graph) Restrict(keep func(name string) bool) *Graph {
	r := New()
	for _, name := range g.Nodes() {
		if keep(name) {
			r.AddNode(name)
		}
	}
	for _, name := range r.Nodes() {
		// Walk through dropped nodes until the first kept node on each path.
		seen := make([]bool, len(g.names))
		stack := slices.Clone(g.out[g.index[name]])
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[n] {
				continue
			}
			seen[n] = true
			if r.Has(g.names[n]) {
				r.AddEdge(name, g.names[n])
				continue
			}
			stack = append(stack, g.out[n]...)
		}
	}
	return r
}

// DetectCycle returns a *CycleError describing one cycle if the graph has
// any, and nil otherwise. It is an iterative depth-first traversal with an
// explicit stack and an on-stack marker; a back edge to a node still on the
// stack closes a cycle.
func (g *Graph) DetectCycle() error {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make([]int, len(g.names))
	for _, start := range g.sortedIDs() {
		if state[start] != unvisited {
			continue
		}
		stack := []dfsFrame{{node: start}}
		state[start] = onStack
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next == len(g.out[top.node]) {
				state[top.node] = done
				stack = stack[:len(stack)-1]
				continue
			}
			succ := g.out[top.node][top.next]
			top.next++
			switch state[succ] {
			case unvisited:
				state[succ] = onStack
				stack = append(stack, dfsFrame{node: succ})
			case onStack:
				return g.cycleFrom(stack, succ)
			}
		}
	}
	return nil
}

// cycleFrom builds the CycleError for a back edge to target. The stack holds
// the path in edge direction (dependency to dependent); the error reports it
// reversed so it reads as a chain of "depends on".
func (g *Graph) cycleFrom(stack []dfsFrame, target int) *CycleError {
	start := 0
	for i, f := range stack {
		if f.node == target {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(stack)-start+1)
	cycle = append(cycle, g.names[target])
	for i := len(stack) - 1; i >= start; i-- {
		cycle = append(cycle, g.names[stack[i].node])
	}
	return &CycleError{Cycle: cycle}
}

func (g *Graph) sortedIDs() []int {
	ids := make([]int, len(g.names))
	for i := range ids {
		ids[i] = i
	}
	slices.SortFunc(ids, g.byName)
	return ids
}

// TopologicalSort returns a valid linear order using Kahn's algorithm, with
// ready nodes taken in name order. Returns a *CycleError if the graph
// contains a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	if err := g.DetectCycle(); err != nil {
		return nil, err
	}
	if len(g.names) == 0 {
		return nil, nil
	}

	inDegree := make([]int, len(g.names))
	for i := range g.names {
		inDegree[i] = len(g.in[i])
	}

	var ready []int
	for _, id := range g.sortedIDs() {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]string, 0, len(g.names))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		result = append(result, g.names[node])
		for _, succ := range g.out[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				ready = g.insertSorted(ready, succ)
			}
		}
	}
	return result, nil
}

// Waves decomposes the graph into layers by repeatedly removing every node
// without remaining incoming edges. Each layer is sorted by name; every edge
// goes from an earlier layer to a strictly later one. Returns a *CycleError
// if the graph contains a cycle.
func (g *Graph) Waves() ([][]string, error) {
	if err := g.DetectCycle(); err != nil {
		return nil, err
	}

	inDegree := make([]int, len(g.names))
	for i := range g.names {
		inDegree[i] = len(g.in[i])
	}

	var current []int
	for _, id := range g.sortedIDs() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var waves [][]string
	for len(current) > 0 {
		waves = append(waves, g.namesOf(current))
		var next []int
		for _, node := range current {
			for _, succ := range g.out[node] {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		slices.SortFunc(next, g.byName)
		current = next
	}
	return waves, nil
}
