package dag

import (
	"slices"
	"strings"

	"quire/internal/project"
	"quire/internal/scan"
)

// Asset is a file a module emits next to the chunks.
type Asset struct {
	Name string
	Data []byte
}

// Module is one transformed source file. Modules are immutable once they are
// placed into a Graph.
type Module struct {
	ID          string // canonical absolute path
	Raw         []byte
	Code        []byte
	Imports     []scan.Import // positions refer to Code
	Exports     []string
	Assets      []Asset
	ContentHash project.Digest // of Raw
	Chain       string         // loader chain identity
}

// Size is the size estimate used by the chunk splitter.
func (m *Module) Size() int {
	return len(m.Code)
}

// Edge is a resolved dependency. Edges refer to modules by id only, so the
// arena stays acyclic even when the module graph is not.
type Edge struct {
	From      ModuleID
	To        ModuleID
	Specifier string
	Dynamic   bool
}

// Dep is an unresolved-by-index dependency as produced by the graph builder.
type Dep struct {
	Specifier string
	Target    string // canonical id of the target module
	Dynamic   bool
}

// Node is the builder's view of a module before it is frozen into a Graph.
type Node struct {
	Module Module
	Deps   []Dep
}

type Graph struct {
	Index   ModuleIndex
	Modules []Module
	Edges   [][]Edge // Edges[from], sorted by target then specifier
	Entries map[string]ModuleID
}

// BuildGraph freezes builder nodes into the arena form. Dependencies whose
// target is not among nodes are dropped, as are entries naming such modules;
// duplicate edges (same target and specifier) are collapsed, a static
// reference winning over a dynamic one.
func BuildGraph(nodes []Node, entries map[string]string) *Graph {
	names := make([]string, 0, len(nodes))
	for i := range nodes {
		names = append(names, nodes[i].Module.ID)
	}
	idx := NewIndex(names)
	g := &Graph{
		Index:   idx,
		Modules: make([]Module, idx.Len()),
		Edges:   make([][]Edge, idx.Len()),
		Entries: make(map[string]ModuleID, len(entries)),
	}
	for i := range nodes {
		id, _ := idx.Slot(nodes[i].Module.ID)
		g.Modules[id] = nodes[i].Module
	}

	for i := range nodes {
		from, _ := idx.Slot(nodes[i].Module.ID)
		if g.Edges[from] != nil {
			// дубликат узла: рёбра уже собраны
			continue
		}
		out := make([]Edge, 0, len(nodes[i].Deps))
		for _, dep := range nodes[i].Deps {
			to, ok := idx.Slot(dep.Target)
			if !ok {
				continue
			}
			out = append(out, Edge{From: from, To: to, Specifier: dep.Specifier, Dynamic: dep.Dynamic})
		}
		g.Edges[from] = collapse(out)
	}

	for name, target := range entries {
		if id, ok := idx.Slot(target); ok {
			g.Entries[name] = id
		}
	}
	return g
}

func collapse(edges []Edge) []Edge {
	slices.SortFunc(edges, func(a, b Edge) int {
		if a.To != b.To {
			if a.To < b.To {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.Specifier, b.Specifier); c != 0 {
			return c
		}
		// static before dynamic so the static copy survives
		switch {
		case a.Dynamic == b.Dynamic:
			return 0
		case !a.Dynamic:
			return -1
		default:
			return 1
		}
	})
	return slices.CompactFunc(edges, func(a, b Edge) bool {
		return a.To == b.To && a.Specifier == b.Specifier
	})
}

// Len returns the number of modules.
func (g *Graph) Len() int { return len(g.Modules) }

// Lookup returns the id of a canonical module id.
func (g *Graph) Lookup(name string) (ModuleID, bool) {
	id, ok := g.Index.Slot(name)
	return id, ok
}

// Name returns the canonical id of a module.
func (g *Graph) Name(id ModuleID) string {
	return g.Index.ID(id)
}

// Module returns the module stored under id.
func (g *Graph) Module(id ModuleID) *Module {
	return &g.Modules[int(id)]
}

// EntryNames returns the entry names, sorted.
func (g *Graph) EntryNames() []string {
	names := make([]string, 0, len(g.Entries))
	for name := range g.Entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// TotalSize sums the size of every module.
func (g *Graph) TotalSize() int {
	total := 0
	for i := range g.Modules {
		total += g.Modules[i].Size()
	}
	return total
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, out := range g.Edges {
		n += len(out)
	}
	return n
}

// CycleNames returns the canonical ids of the cyclic modules of l.
func (g *Graph) CycleNames(l *Layering) []string {
	if l == nil {
		return nil
	}
	names := make([]string, 0, len(l.Cyclic))
	for _, id := range l.Cyclic {
		names = append(names, g.Name(id))
	}
	return names
}
