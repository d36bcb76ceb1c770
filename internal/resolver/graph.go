package resolver

import (
	"fmt"
	"sort"
)

// depGraph is a directed acyclic graph over module NSVC strings, topologically
// sortable via Kahn's algorithm. Adapted from the teacher's generic
// feature.Graph[T] (internal/feature/graph.go): same node/edge/in-degree
// bookkeeping and the same sorted-queue determinism rule, specialized here to
// string nodes since moduleStrategy only needs to order NSVCs, not carry an
// arbitrary payload per node.
type depGraph struct {
	nodes    map[string]bool
	edges    map[string]map[string]bool
	inDegree map[string]int
}

func newDepGraph() *depGraph {
	return &depGraph{
		nodes:    make(map[string]bool),
		edges:    make(map[string]map[string]bool),
		inDegree: make(map[string]int),
	}
}

func (g *depGraph) addNode(key string) {
	g.nodes[key] = true
	if _, ok := g.inDegree[key]; !ok {
		g.inDegree[key] = 0
	}
}

// addEdge adds from -> to, meaning "from" must come before "to" in sorted
// output (from is a dependency of to).
func (g *depGraph) addEdge(from, to string) error {
	if !g.nodes[from] {
		return fmt.Errorf("node %q not found", from)
	}
	if !g.nodes[to] {
		return fmt.Errorf("node %q not found", to)
	}
	if from == to {
		return nil
	}
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]bool)
	}
	if !g.edges[from][to] {
		g.edges[from][to] = true
		g.inDegree[to]++
	}
	return nil
}

// sort returns nodes in topological order (dependencies first), breaking
// ties lexicographically for deterministic output across resolver runs — the
// determinism spec.md §4.2 requires ("identical semantic input... produce
// identical resolved source").
func (g *depGraph) sort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.inDegree))
	for k, v := range g.inDegree {
		inDegree[k] = v
	}

	var queue []string
	for key := range g.nodes {
		if inDegree[key] == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	var result []string
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		result = append(result, key)

		var newZero []string
		for to := range g.edges[key] {
			inDegree[to]--
			if inDegree[to] == 0 {
				newZero = append(newZero, to)
			}
		}
		sort.Strings(newZero)
		queue = sortedMerge(queue, newZero)
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("circular dependency detected among modules")
	}
	return result, nil
}

func sortedMerge(a, b []string) []string {
	result := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			result = append(result, a[i])
			i++
		} else {
			result = append(result, b[j])
			j++
		}
	}
	result = append(result, a[i:]...)
	result = append(result, b[j:]...)
	return result
}
