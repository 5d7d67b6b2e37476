// Package testkit holds invariant checks shared by the tests of several
// packages.
package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"quire/internal/project/dag"
	"quire/internal/split"
)

// CheckPartition verifies the structural invariants of a chunk split of g:
//  1. every module belongs to exactly one chunk and chunk names are unique
//  2. a chunk's Size is the sum of its module sizes
//  3. every load list names existing chunks and ends with the chunk holding
//     its entry (or async root)
func CheckPartition(g *dag.Graph, p *split.Partition) error {
	if g == nil || p == nil {
		return fmt.Errorf("nil graph or partition")
	}

	// 1) coverage
	owner := make(map[dag.ModuleID]string, g.Len())
	byName := make(map[string]*split.Chunk, len(p.Chunks))
	for i := range p.Chunks {
		c := &p.Chunks[i]
		if _, dup := byName[c.Name]; dup {
			return fmt.Errorf("duplicate chunk name %q", c.Name)
		}
		byName[c.Name] = c
		var size uint64
		for _, id := range c.Modules {
			if int(id) >= g.Len() {
				return fmt.Errorf("chunk %s: module id %d out of range", c.Name, id)
			}
			if prev, dup := owner[id]; dup {
				return fmt.Errorf("module %s in chunks %s and %s", g.Name(id), prev, c.Name)
			}
			owner[id] = c.Name
			n, err := safecast.Conv[uint64](g.Module(id).Size())
			if err != nil {
				return fmt.Errorf("module %s: size: %w", g.Name(id), err)
			}
			size += n
		}
		// 2) sizes
		want, err := safecast.Conv[uint64](c.Size)
		if err != nil {
			return fmt.Errorf("chunk %s: size: %w", c.Name, err)
		}
		if size != want {
			return fmt.Errorf("chunk %s: size %d, modules sum to %d", c.Name, c.Size, size)
		}
	}
	if len(owner) != g.Len() {
		return fmt.Errorf("%d of %d modules assigned to a chunk", len(owner), g.Len())
	}

	// 3) load lists
	checkList := func(what string, root dag.ModuleID, names []string) error {
		if len(names) == 0 {
			return fmt.Errorf("%s: empty load list", what)
		}
		for _, n := range names {
			if _, ok := byName[n]; !ok {
				return fmt.Errorf("%s: unknown chunk %q", what, n)
			}
		}
		if last, own := names[len(names)-1], owner[root]; last != own {
			return fmt.Errorf("%s: load list ends with %s, root lives in %s", what, last, own)
		}
		return nil
	}
	for name, root := range g.Entries {
		if err := checkList("entry "+name, root, p.Initial[name]); err != nil {
			return err
		}
	}
	for root, names := range p.Async {
		if err := checkList("async "+g.Name(root), root, names); err != nil {
			return err
		}
	}
	return nil
}

// CheckRequests verifies the request limits: no entry loads more than
// maxInitial chunks and no async boundary more than maxAsync.
func CheckRequests(p *split.Partition, maxInitial, maxAsync int) error {
	for name, names := range p.Initial {
		if len(names) > maxInitial {
			return fmt.Errorf("entry %s loads %d chunks, limit %d", name, len(names), maxInitial)
		}
	}
	for root, names := range p.Async {
		if len(names) > maxAsync {
			return fmt.Errorf("async module %d loads %d chunks, limit %d", root, len(names), maxAsync)
		}
	}
	return nil
}
