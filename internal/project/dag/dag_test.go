package dag

import (
	"reflect"
	"testing"
)

func idsToNames(g *Graph, ids []ModuleID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.Name(id)
	}
	return out
}

func batchesToNames(g *Graph, batches [][]ModuleID) [][]string {
	out := make([][]string, len(batches))
	for i, batch := range batches {
		out[i] = idsToNames(g, batch)
	}
	return out
}

func node(id string, deps ...Dep) Node {
	return Node{Module: Module{ID: id, Code: []byte(id)}, Deps: deps}
}

func static(target string) Dep {
	return Dep{Specifier: "./" + target, Target: target}
}

func TestIndexSlotsFollowLexicalOrder(t *testing.T) {
	in := []string{"lib/util", "core/main", "", "lib/math", "lib/util"}
	idx := NewIndex(in)

	want := []string{"core/main", "lib/math", "lib/util"}
	if !reflect.DeepEqual(idx.IDs(), want) {
		t.Fatalf("IDs = %v, want %v", idx.IDs(), want)
	}
	for i, id := range want {
		if slot, ok := idx.Slot(id); !ok || int(slot) != i || idx.ID(slot) != id {
			t.Fatalf("Slot(%q) = %v, %v, want %d", id, slot, ok, i)
		}
	}
	if _, ok := idx.Slot(""); ok {
		t.Fatalf("empty id got a slot")
	}
	if in[0] != "lib/util" {
		t.Fatalf("NewIndex reordered its input: %v", in)
	}
}

func TestBuildGraphCollapsesAndDrops(t *testing.T) {
	nodes := []Node{
		node("a",
			Dep{Specifier: "./b", Target: "b", Dynamic: true},
			Dep{Specifier: "./b", Target: "b"},
			Dep{Specifier: "./b.js", Target: "b"},
			Dep{Specifier: "./gone", Target: "gone"},
		),
		node("b"),
	}
	g := BuildGraph(nodes, map[string]string{"main": "a", "broken": "gone"})

	if g.Len() != 2 {
		t.Fatalf("Len = %d, want 2", g.Len())
	}
	a, _ := g.Lookup("a")
	b, _ := g.Lookup("b")
	want := []Edge{
		{From: a, To: b, Specifier: "./b"},
		{From: a, To: b, Specifier: "./b.js"},
	}
	if !reflect.DeepEqual(g.Edges[a], want) {
		t.Fatalf("edges = %+v, want %+v", g.Edges[a], want)
	}
	if len(g.Entries) != 1 || g.Entries["main"] != a {
		t.Fatalf("entries = %v", g.Entries)
	}
	if g.TotalSize() != 2 || g.EdgeCount() != 2 {
		t.Fatalf("size=%d edges=%d", g.TotalSize(), g.EdgeCount())
	}
}

func TestLayerGroupsByImportDepth(t *testing.T) {
	g := BuildGraph([]Node{
		node("app", static("core"), static("util"), Dep{Specifier: "./lazy", Target: "lazy", Dynamic: true}),
		node("core", static("util")),
		node("util"),
		node("extra"),
		node("lazy", static("app")),
	}, nil)

	l := Layer(g)
	if l.HasCycles() {
		t.Fatalf("unexpected cycle: %v", g.CycleNames(l))
	}
	want := [][]string{{"extra", "util"}, {"core"}, {"app"}, {"lazy"}}
	if got := batchesToNames(g, l.Layers); !reflect.DeepEqual(got, want) {
		t.Fatalf("layers = %v, want %v", got, want)
	}
	if got := idsToNames(g, l.Order); !reflect.DeepEqual(got, []string{"extra", "util", "core", "app", "lazy"}) {
		t.Fatalf("order = %v", got)
	}
}

func TestLayerReportsCycle(t *testing.T) {
	g := BuildGraph([]Node{
		node("a", static("b")),
		node("b", static("a")),
		node("c", static("a")),
		node("d"),
	}, nil)

	l := Layer(g)
	if !l.HasCycles() {
		t.Fatalf("cycle not detected")
	}
	if got := g.CycleNames(l); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("cycles = %v", got)
	}
	if got := idsToNames(g, l.Order); !reflect.DeepEqual(got, []string{"d"}) {
		t.Fatalf("order = %v", got)
	}
}

func TestDependencyOrder(t *testing.T) {
	g := BuildGraph([]Node{
		node("main", static("view"), static("utils"), Dep{Specifier: "./lazy", Target: "lazy", Dynamic: true}),
		node("view", static("utils"), static("vendor")),
		node("utils"),
		node("lazy", static("utils")),
		node("vendor"),
	}, nil)
	ids := make([]ModuleID, 0)
	for _, name := range []string{"main", "view", "utils", "lazy"} {
		id, _ := g.Lookup(name)
		ids = append(ids, id)
	}

	got := idsToNames(g, DependencyOrder(g, ids))
	want := []string{"utils", "lazy", "view", "main"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DependencyOrder = %v, want %v", got, want)
	}
}

func TestDependencyOrderCycleIsStable(t *testing.T) {
	build := func() *Graph {
		return BuildGraph([]Node{
			node("b", static("a")),
			node("a", static("b")),
			node("c", static("a")),
		}, nil)
	}
	g := build()
	ids := []ModuleID{2, 0, 1}
	first := idsToNames(g, DependencyOrder(g, ids))
	if !reflect.DeepEqual(first, []string{"b", "a", "c"}) {
		t.Fatalf("DependencyOrder = %v", first)
	}
	for range 5 {
		g2 := build()
		if got := idsToNames(g2, DependencyOrder(g2, []ModuleID{1, 2, 0})); !reflect.DeepEqual(got, first) {
			t.Fatalf("order changed between runs: %v vs %v", got, first)
		}
	}
}
