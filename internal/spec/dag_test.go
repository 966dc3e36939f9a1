package spec

import (
	"errors"
	"reflect"
	"testing"

	"github.com/josephgoksu/specwing/models"
)

func mustAdd(t *testing.T, g *Graph, from, to string) {
	t.Helper()
	if err := g.AddDependency(from, to); err != nil {
		t.Fatalf("AddDependency(%s, %s): %v", from, to, err)
	}
}

func TestAddDependency_NoCycle(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, "b", "a")
	mustAdd(t, g, "c", "b")

	if got := g.DependenciesOf("c"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("DependenciesOf(c) = %v", got)
	}
	if got := g.DependentsOf("a"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("DependentsOf(a) = %v", got)
	}
}

func TestAddDependency_RejectsCycle(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, "b", "a")
	mustAdd(t, g, "c", "b")

	err := g.AddDependency("a", "c")
	var cde *CycleDetectedError
	if !errors.As(err, &cde) {
		t.Fatalf("error = %v, want CycleDetectedError", err)
	}
	if cde.From != "a" || cde.To != "c" {
		t.Errorf("error fields %s -> %s", cde.From, cde.To)
	}
	if len(g.DependenciesOf("a")) != 0 {
		t.Error("rejected edge mutated graph")
	}
}

func TestAddDependency_RejectsSelf(t *testing.T) {
	g := NewGraph()
	var cde *CycleDetectedError
	if err := g.AddDependency("a", "a"); !errors.As(err, &cde) {
		t.Fatalf("error = %v, want CycleDetectedError", err)
	}
}

func TestRemoveDependency(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, "b", "a")
	g.RemoveDependency("b", "a")

	if len(g.DependenciesOf("b")) != 0 {
		t.Error("dependency not removed")
	}
	// The reverse edge becomes legal once the forward one is gone.
	mustAdd(t, g, "a", "b")
}

func TestTraverse_DepthAndOrder(t *testing.T) {
	// Diamond: d depends on b and c, both depend on a... c on b here makes
	// depths d=0, b=1, c=1, a=2.
	g := NewGraph()
	mustAdd(t, g, "b", "a")
	mustAdd(t, g, "c", "b")
	mustAdd(t, g, "d", "c")
	mustAdd(t, g, "d", "b")

	result := g.Traverse("d", -1)

	depths := map[string]int{}
	for _, n := range result.Nodes {
		if _, seen := depths[n.ID]; seen {
			t.Errorf("node %s visited twice", n.ID)
		}
		depths[n.ID] = n.Depth
	}
	want := map[string]int{"d": 0, "b": 1, "c": 1, "a": 2}
	if !reflect.DeepEqual(depths, want) {
		t.Errorf("depths = %v, want %v", depths, want)
	}
	for _, e := range result.Edges {
		if e.Relation != RelationDependsOn {
			t.Errorf("edge %s -> %s has relation %s", e.From, e.To, e.Relation)
		}
	}
}

func TestTraverse_DepthBound(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, "b", "a")
	mustAdd(t, g, "c", "b")

	result := g.Traverse("c", 1)
	if len(result.Nodes) != 2 {
		t.Fatalf("nodes = %v, want c and b only", result.Nodes)
	}
	for _, n := range result.Nodes {
		if n.ID == "a" {
			t.Error("depth bound not honored")
		}
	}
}

func TestTraverse_UnknownRoot(t *testing.T) {
	g := NewGraph()
	result := g.Traverse("ghost", -1)
	if len(result.Nodes) != 0 || len(result.Edges) != 0 {
		t.Errorf("unknown root produced %v", result)
	}
}

func TestUnsatisfiedDependencies(t *testing.T) {
	g := NewGraph()
	mustAdd(t, g, "c", "a")
	mustAdd(t, g, "c", "b")

	statuses := map[string]models.SpecStatus{
		"a": models.StatusCompleted,
		"b": models.StatusInProgress,
	}
	statusOf := func(id string) (models.SpecStatus, bool) {
		s, ok := statuses[id]
		return s, ok
	}

	if got := g.UnsatisfiedDependencies("c", statusOf); got != 1 {
		t.Errorf("unsatisfied = %d, want 1", got)
	}
	statuses["b"] = models.StatusCompleted
	if got := g.UnsatisfiedDependencies("c", statusOf); got != 0 {
		t.Errorf("unsatisfied = %d, want 0", got)
	}

	// A dependency the resolver cannot see counts as unsatisfied.
	mustAdd(t, g, "c", "ghost")
	if got := g.UnsatisfiedDependencies("c", statusOf); got != 1 {
		t.Errorf("unsatisfied with unknown dep = %d, want 1", got)
	}
}

func TestBuildGraph(t *testing.T) {
	specs := []models.Spec{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a", "b"}},
	}
	g := BuildGraph(specs)
	if got := g.DependenciesOf("c"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("DependenciesOf(c) = %v", got)
	}
	if got := g.DependentsOf("a"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("DependentsOf(a) = %v", got)
	}
}
