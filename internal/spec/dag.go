package spec

import (
	"fmt"
	"sort"

	"github.com/josephgoksu/specwing/models"
)

// CycleDetectedError is returned when adding an edge would create a cycle.
type CycleDetectedError struct {
	From string
	To   string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.From, e.To)
}

// EdgeRelation labels the kind of edge in a traversal result.
type EdgeRelation string

// RelationDependsOn marks an edge from a spec to a spec it depends on.
const RelationDependsOn EdgeRelation = "depends-on"

// Node is one spec in a traversal result, with its BFS depth from the root.
type Node struct {
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

// Edge is one dependency edge in a traversal result.
type Edge struct {
	From     string       `json:"from"`
	To       string       `json:"to"`
	Relation EdgeRelation `json:"relation"`
}

// TraversalResult is the subgraph reachable from a traversal root.
type TraversalResult struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Graph is the in-memory dependency graph. Edges point from a spec to the
// specs it depends on; the reverse index is kept for dependent lookups.
// Graph is not safe for concurrent use; callers serialize access.
type Graph struct {
	deps       map[string]map[string]bool // id -> ids it depends on
	dependents map[string]map[string]bool // id -> ids that depend on it
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		deps:       make(map[string]map[string]bool),
		dependents: make(map[string]map[string]bool),
	}
}

// BuildGraph constructs a graph from stored specs and their dependency lists.
func BuildGraph(specs []models.Spec) *Graph {
	g := NewGraph()
	for _, s := range specs {
		g.AddNode(s.ID)
	}
	for _, s := range specs {
		for _, dep := range s.Dependencies {
			// Stored edges were cycle-checked on insert.
			g.link(s.ID, dep)
		}
	}
	return g
}

// AddNode ensures id exists in the graph.
func (g *Graph) AddNode(id string) {
	if g.deps[id] == nil {
		g.deps[id] = make(map[string]bool)
	}
	if g.dependents[id] == nil {
		g.dependents[id] = make(map[string]bool)
	}
}

// AddDependency records that from depends on to. The edge is rejected with
// CycleDetectedError, leaving the graph unchanged, if to can already reach
// from.
func (g *Graph) AddDependency(from, to string) error {
	if from == to {
		return &CycleDetectedError{From: from, To: to}
	}
	if g.reachable(to, from) {
		return &CycleDetectedError{From: from, To: to}
	}
	g.link(from, to)
	return nil
}

// RemoveDependency deletes the from -> to edge if present.
func (g *Graph) RemoveDependency(from, to string) {
	if g.deps[from] != nil {
		delete(g.deps[from], to)
	}
	if g.dependents[to] != nil {
		delete(g.dependents[to], from)
	}
}

// DependenciesOf returns the ids that id depends on, sorted.
func (g *Graph) DependenciesOf(id string) []string {
	return sortedKeys(g.deps[id])
}

// DependentsOf returns the ids that depend on id, sorted.
func (g *Graph) DependentsOf(id string) []string {
	return sortedKeys(g.dependents[id])
}

func (g *Graph) link(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.deps[from][to] = true
	g.dependents[to][from] = true
}

// reachable reports whether dst can be reached from src along dependency
// edges.
func (g *Graph) reachable(src, dst string) bool {
	if src == dst {
		return true
	}
	visited := map[string]bool{src: true}
	stack := []string{src}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.deps[cur] {
			if next == dst {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Traverse walks dependency edges breadth-first from root, visiting each node
// once and stopping at maxDepth (a negative maxDepth means unbounded). An
// unknown root yields an empty result.
func (g *Graph) Traverse(root string, maxDepth int) TraversalResult {
	var result TraversalResult
	if g.deps[root] == nil {
		return result
	}

	visited := map[string]bool{root: true}
	queue := []Node{{ID: root, Depth: 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		result.Nodes = append(result.Nodes, cur)

		if maxDepth >= 0 && cur.Depth >= maxDepth {
			continue
		}
		for _, dep := range sortedKeys(g.deps[cur.ID]) {
			result.Edges = append(result.Edges, Edge{From: cur.ID, To: dep, Relation: RelationDependsOn})
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, Node{ID: dep, Depth: cur.Depth + 1})
			}
		}
	}
	return result
}

// UnsatisfiedDependencies counts direct dependencies of id whose status is
// not completed. Dependencies statusOf cannot resolve count as unsatisfied.
func (g *Graph) UnsatisfiedDependencies(id string, statusOf func(string) (models.SpecStatus, bool)) int {
	count := 0
	for dep := range g.deps[id] {
		status, ok := statusOf(dep)
		if !ok || status != models.StatusCompleted {
			count++
		}
	}
	return count
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
