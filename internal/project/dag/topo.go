package dag

import (
	"fmt"
	"slices"

	"fortio.org/safecast"
)

// Layering groups modules by static import depth. Layer 0 holds modules that
// import nothing in the graph; a module of layer n statically imports only
// modules of lower layers. Dynamic imports are loaded later and do not
// constrain evaluation, so they are ignored here.
type Layering struct {
	Order  []ModuleID   // dependencies before dependents
	Layers [][]ModuleID // each layer sorted
	// Cyclic lists, sorted, the modules on a static import cycle or
	// importing one. They appear in no layer.
	Cyclic []ModuleID
}

// HasCycles reports whether some static imports form a cycle.
func (l *Layering) HasCycles() bool { return len(l.Cyclic) > 0 }

// Layer peels the graph from its leaves inward (Kahn's algorithm).
func Layer(g *Graph) *Layering {
	n := len(g.Edges)
	waiting := make([]int, n) // static imports not yet placed
	importers := make([][]ModuleID, n)
	for from, out := range g.Edges {
		for _, e := range out {
			if e.Dynamic {
				continue
			}
			waiting[from]++
			importers[e.To] = append(importers[e.To], slotID(from))
		}
	}

	l := &Layering{Order: make([]ModuleID, 0, n)}
	var layer []ModuleID
	for i, w := range waiting {
		if w == 0 {
			layer = append(layer, slotID(i))
		}
	}
	for len(layer) > 0 {
		l.Layers = append(l.Layers, layer)
		l.Order = append(l.Order, layer...)
		var next []ModuleID
		for _, id := range layer {
			for _, imp := range importers[id] {
				if waiting[imp]--; waiting[imp] == 0 {
					next = append(next, imp)
				}
			}
		}
		slices.Sort(next)
		layer = next
	}

	if len(l.Order) < n {
		for i, w := range waiting {
			if w > 0 {
				l.Cyclic = append(l.Cyclic, slotID(i))
			}
		}
	}
	return l
}

func slotID(i int) ModuleID {
	id, err := safecast.Conv[ModuleID](i)
	if err != nil {
		panic(fmt.Errorf("module id overflow: %w", err))
	}
	return id
}
