package dag

import (
	"slices"
)

// DependencyOrder returns ids ordered so that each module follows the modules
// it statically depends on within the set. Dependencies outside ids are
// ignored. Cycles are broken at the back edge met first by a depth-first walk
// that starts from the lowest id and visits targets in edge order, so the
// result is the same on every run.
func DependencyOrder(g *Graph, ids []ModuleID) []ModuleID {
	in := make(map[ModuleID]bool, len(ids))
	for _, id := range ids {
		in[id] = false
	}
	roots := slices.Clone(ids)
	slices.Sort(roots)
	roots = slices.Compact(roots)

	out := make([]ModuleID, 0, len(roots))
	type frame struct {
		id   ModuleID
		next int
	}
	for _, root := range roots {
		if in[root] {
			continue
		}
		in[root] = true
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := g.Edges[int(top.id)]
			if top.next < len(edges) {
				e := edges[top.next]
				top.next++
				if e.Dynamic {
					continue
				}
				visited, member := in[e.To]
				if !member || visited {
					continue
				}
				in[e.To] = true
				stack = append(stack, frame{id: e.To})
				continue
			}
			out = append(out, top.id)
			stack = stack[:len(stack)-1]
		}
	}
	return out
}
