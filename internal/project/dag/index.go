package dag

import "slices"

// ModuleID is a dense index into a Graph's arena.
type ModuleID uint32

// ModuleIndex maps canonical module ids to arena slots. Slots follow the
// lexical order of the ids, so two graphs over the same modules agree on
// every ModuleID regardless of discovery order.
type ModuleIndex struct {
	ids   []string
	slots map[string]ModuleID
}

// NewIndex builds an index over ids. Empty and repeated ids are ignored.
func NewIndex(ids []string) ModuleIndex {
	sorted := slices.DeleteFunc(slices.Clone(ids), func(id string) bool { return id == "" })
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	slots := make(map[string]ModuleID, len(sorted))
	for i, id := range sorted {
		slots[id] = ModuleID(i)
	}
	return ModuleIndex{ids: sorted, slots: slots}
}

// Slot returns the arena slot of id.
func (x ModuleIndex) Slot(id string) (ModuleID, bool) {
	slot, ok := x.slots[id]
	return slot, ok
}

// ID returns the canonical id stored at slot.
func (x ModuleIndex) ID(slot ModuleID) string { return x.ids[slot] }

// Len is the number of indexed modules.
func (x ModuleIndex) Len() int { return len(x.ids) }

// IDs returns the indexed ids in slot order. The slice is shared.
func (x ModuleIndex) IDs() []string { return x.ids }
