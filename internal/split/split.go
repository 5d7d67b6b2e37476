// Package split partitions a module graph into output chunks.
//
// Every entry module and every target of a dynamic import is a boundary and
// owns a chunk. Modules reached from several boundaries move into one of two
// shared groups (vendor code and common application code) when the groups
// are large enough; otherwise they merge back into the chunk of a consumer.
// A module needed by two entries always stays shared: entry chunks run their
// entry when loaded, so one entry can never load another entry's chunk.
package split

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"fortio.org/safecast"

	"quire/internal/project"
	"quire/internal/project/dag"
)

// ErrNoEntries is returned for a graph without entry modules.
var ErrNoEntries = errors.New("graph has no entry modules")

// Kind is the role of a chunk.
type Kind uint8

const (
	KindEntry Kind = iota
	KindAsync
	KindVendor
	KindCommon
)

func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindAsync:
		return "async"
	case KindVendor:
		return "vendor"
	case KindCommon:
		return "common"
	default:
		return "unknown"
	}
}

// Chunk is a group of modules emitted as one artifact.
type Chunk struct {
	Name     string
	Kind     Kind
	Entry    string       // entry name, KindEntry only
	Root     dag.ModuleID // entry or async root, unset for shared groups
	Modules  []dag.ModuleID
	Size     int
	Enforced bool // kept regardless of minSize and request limits
}

// Partition assigns every module of a graph to exactly one chunk.
type Partition struct {
	Chunks []Chunk // entry, async, vendor, common; by name within a kind
	// Initial lists per entry name the chunks to load before the entry runs:
	// shared groups first, the entry's own chunk last.
	Initial map[string][]string
	// Async lists per dynamically imported module the chunks to load before
	// the module can be required.
	Async map[dag.ModuleID][]string
	// Merged names the shared groups that were merged back into consumers.
	Merged []string

	chunkOf []int
	byName  map[string]int
}

// ChunkOf returns the chunk holding module id.
func (p *Partition) ChunkOf(id dag.ModuleID) *Chunk {
	if int(id) >= len(p.chunkOf) {
		return nil
	}
	return &p.Chunks[p.chunkOf[id]]
}

// Chunk looks a chunk up by name.
func (p *Partition) Chunk(name string) (*Chunk, bool) {
	i, ok := p.byName[name]
	if !ok {
		return nil, false
	}
	return &p.Chunks[i], true
}

type boundary struct {
	name    string
	entry   string
	root    dag.ModuleID
	initial bool
	reach   []dag.ModuleID
}

type slot struct {
	name     string
	kind     Kind
	bound    int // boundary index, -1 for shared groups
	enforced bool
}

type splitter struct {
	g      *dag.Graph
	p      Policy
	bounds []*boundary
	byRoot map[dag.ModuleID]int
	// consumers[m] lists the boundaries whose static reach contains m, ascending
	consumers [][]int
	dynamic   []bool

	slots      []*slot
	assign     []int // module -> slot
	vendorSlot int
	commonSlot int
	merged     []string
}

// Split partitions g under p. The result depends only on the graph and the
// policy: every choice is made in module id or chunk name order.
func Split(g *dag.Graph, p Policy) (*Partition, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(g.Entries) == 0 {
		return nil, ErrNoEntries
	}
	s := &splitter{
		g:         g,
		p:         p,
		byRoot:    make(map[dag.ModuleID]int),
		consumers: make([][]int, len(g.Modules)),
		dynamic:   make([]bool, len(g.Modules)),
	}
	if err := s.findBoundaries(); err != nil {
		return nil, err
	}
	s.computeReach()
	s.assignModules()
	if err := s.limitRequests(); err != nil {
		return nil, err
	}
	return s.partition(), nil
}

func (s *splitter) findBoundaries() error {
	taken := map[string]bool{s.p.VendorName: true, s.p.CommonName: true}
	for _, name := range s.g.EntryNames() {
		if taken[name] {
			return &SplitPolicyError{Constraint: "cacheGroups", Detail: fmt.Sprintf("entry %q has the name of a shared chunk", name)}
		}
		taken[name] = true
		root := s.g.Entries[name]
		if _, ok := s.byRoot[root]; !ok {
			s.byRoot[root] = len(s.bounds)
		}
		s.bounds = append(s.bounds, &boundary{name: name, entry: name, root: root, initial: true})
	}

	for _, out := range s.g.Edges {
		for _, e := range out {
			if e.Dynamic {
				s.dynamic[e.To] = true
			}
		}
	}
	for i, dyn := range s.dynamic {
		if !dyn {
			continue
		}
		root := idOf(i)
		if _, ok := s.byRoot[root]; ok {
			continue
		}
		name := uniqueName(s.asyncName(root), taken)
		taken[name] = true
		s.byRoot[root] = len(s.bounds)
		s.bounds = append(s.bounds, &boundary{name: name, root: root})
	}
	return nil
}

// asyncName derives a chunk name from the module path, webpack style:
// src/pages/about.js becomes src_pages_about_js.
func (s *splitter) asyncName(id dag.ModuleID) string {
	path := s.g.Name(id)
	if rel, err := filepath.Rel(s.p.Root, path); err == nil && project.PathWithin(s.p.Root, path) {
		path = rel
	} else {
		path = filepath.Base(path)
	}
	var sb strings.Builder
	for _, r := range filepath.ToSlash(path) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	name := strings.Trim(sb.String(), "_")
	if name == "" {
		name = "chunk"
	}
	return name
}

func uniqueName(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		if candidate := fmt.Sprintf("%s-%d", base, n); !taken[candidate] {
			return candidate
		}
	}
}

// computeReach collects, per boundary, the modules loaded synchronously with
// its root: everything reachable without crossing a dynamic import.
func (s *splitter) computeReach() {
	seen := make([]bool, len(s.g.Modules))
	for bi, b := range s.bounds {
		clear(seen)
		queue := []dag.ModuleID{b.root}
		seen[b.root] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			b.reach = append(b.reach, id)
			for _, e := range s.g.Edges[id] {
				if e.Dynamic || seen[e.To] {
					continue
				}
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
		slices.Sort(b.reach)
		for _, id := range b.reach {
			s.consumers[id] = append(s.consumers[id], bi)
		}
	}
}

func (s *splitter) assignModules() {
	for bi, b := range s.bounds {
		kind := KindEntry
		if !b.initial {
			kind = KindAsync
		}
		s.slots = append(s.slots, &slot{name: b.name, kind: kind, bound: bi})
	}
	s.vendorSlot = len(s.slots)
	s.slots = append(s.slots, &slot{name: s.p.VendorName, kind: KindVendor, bound: -1})
	s.commonSlot = len(s.slots)
	s.slots = append(s.slots, &slot{name: s.p.CommonName, kind: KindCommon, bound: -1})

	s.assign = make([]int, len(s.g.Modules))
	for i := range s.g.Modules {
		vendor := s.p.isVendor(s.g.Modules[i].ID)
		n := len(s.consumers[i])
		switch {
		case s.pinned(i) && vendor:
			s.assign[i] = s.vendorSlot
		case s.pinned(i):
			s.assign[i] = s.commonSlot
		case vendor && n >= s.p.MinChunks:
			s.assign[i] = s.vendorSlot
		case !vendor && n >= s.p.commonMinChunks():
			s.assign[i] = s.commonSlot
		default:
			s.assign[i] = s.owner(i)
		}
	}

	for _, gs := range []int{s.vendorSlot, s.commonSlot} {
		size := s.slotSize(gs)
		if size == 0 {
			continue
		}
		if s.p.EnforceSizeThreshold > 0 && size >= s.p.EnforceSizeThreshold {
			s.slots[gs].enforced = true
			continue
		}
		if size < s.p.MinSize {
			s.mergeBack(gs)
		}
	}
}

// pinned reports whether module i is loaded by two or more entries.
func (s *splitter) pinned(i int) bool {
	n := 0
	for _, bi := range s.consumers[i] {
		if s.bounds[bi].initial {
			n++
		}
	}
	return n >= 2
}

// owner picks the boundary chunk of an unpinned module: its entry if an
// entry loads it, otherwise the async consumer with the smallest name.
func (s *splitter) owner(i int) int {
	cons := s.consumers[i]
	if len(cons) == 0 {
		// not reachable from any boundary; rides with the first entry
		return 0
	}
	for _, bi := range cons {
		if s.bounds[bi].initial {
			return bi
		}
	}
	best := cons[0]
	for _, bi := range cons[1:] {
		if s.bounds[bi].name < s.bounds[best].name {
			best = bi
		}
	}
	return best
}

// mergeBack moves the unpinned modules of a shared group to their owners.
func (s *splitter) mergeBack(gs int) {
	for i, at := range s.assign {
		if at == gs && !s.pinned(i) {
			s.assign[i] = s.owner(i)
		}
	}
	if !s.slotUsed(gs) {
		s.merged = append(s.merged, s.slots[gs].name)
	}
}

func (s *splitter) slotSize(gs int) int {
	size := 0
	for i, at := range s.assign {
		if at == gs {
			size += s.g.Modules[i].Size()
		}
	}
	return size
}

func (s *splitter) slotUsed(gs int) bool {
	return slices.Contains(s.assign, gs)
}

// dissolvable reports whether a shared group can be merged back entirely.
func (s *splitter) dissolvable(gs int) bool {
	sl := s.slots[gs]
	if sl.bound >= 0 || sl.enforced || !s.slotUsed(gs) {
		return false
	}
	for i, at := range s.assign {
		if at == gs && s.pinned(i) {
			return false
		}
	}
	return true
}

// loads returns the slots boundary bi needs, ascending.
func (s *splitter) loads(bi int) []int {
	b := s.bounds[bi]
	out := make([]int, 0, 4)
	if b.initial {
		out = append(out, bi)
	}
	for _, id := range b.reach {
		out = append(out, s.assign[id])
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// limitRequests dissolves shared groups until every boundary loads no more
// chunks than its limit. The smallest eligible group goes first; ties break
// by name.
func (s *splitter) limitRequests() error {
	for {
		bi, count, limit := s.firstViolation()
		if bi < 0 {
			return nil
		}
		best := -1
		for _, gs := range s.loads(bi) {
			if !s.dissolvable(gs) {
				continue
			}
			if best < 0 || s.lessSlot(gs, best) {
				best = gs
			}
		}
		if best < 0 {
			b := s.bounds[bi]
			constraint, what := "maxInitialRequests", "entry"
			if !b.initial {
				constraint, what = "maxAsyncRequests", "async chunk"
			}
			return &SplitPolicyError{
				Constraint: constraint,
				Detail:     fmt.Sprintf("%s %q needs %d chunks, limit is %d", what, b.name, count, limit),
			}
		}
		s.mergeBack(best)
	}
}

func (s *splitter) lessSlot(a, b int) bool {
	sa, sb := s.slotSize(a), s.slotSize(b)
	if sa != sb {
		return sa < sb
	}
	return s.slots[a].name < s.slots[b].name
}

func (s *splitter) firstViolation() (int, int, int) {
	for i, b := range s.bounds {
		limit := s.p.MaxAsyncRequests
		if b.initial {
			limit = s.p.MaxInitialRequests
		}
		if n := len(s.loads(i)); n > limit {
			return i, n, limit
		}
	}
	return -1, 0, 0
}

func (s *splitter) partition() *Partition {
	members := make([][]dag.ModuleID, len(s.slots))
	for i, at := range s.assign {
		members[at] = append(members[at], idOf(i))
	}

	p := &Partition{
		Initial: make(map[string][]string),
		Async:   make(map[dag.ModuleID][]string),
		Merged:  s.merged,
		chunkOf: make([]int, len(s.g.Modules)),
		byName:  make(map[string]int),
	}
	for si, sl := range s.slots {
		if len(members[si]) == 0 && sl.kind != KindEntry {
			continue
		}
		c := Chunk{Name: sl.name, Kind: sl.kind, Modules: members[si], Enforced: sl.enforced}
		if sl.bound >= 0 {
			c.Root = s.bounds[sl.bound].root
			c.Entry = s.bounds[sl.bound].entry
		}
		for _, id := range c.Modules {
			c.Size += s.g.Modules[id].Size()
		}
		p.Chunks = append(p.Chunks, c)
	}
	slices.SortStableFunc(p.Chunks, func(a, b Chunk) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		return strings.Compare(a.Name, b.Name)
	})
	for ci, c := range p.Chunks {
		p.byName[c.Name] = ci
		for _, id := range c.Modules {
			p.chunkOf[id] = ci
		}
	}

	for bi, b := range s.bounds {
		if b.initial {
			p.Initial[b.entry] = s.loadNames(bi)
		}
	}
	for i, dyn := range s.dynamic {
		if dyn {
			p.Async[idOf(i)] = s.loadNames(s.byRoot[idOf(i)])
		}
	}
	return p
}

// loadNames orders the chunks of a boundary for loading: shared groups, then
// other chunks by name, then the boundary's own chunk.
func (s *splitter) loadNames(bi int) []string {
	var own string
	rest := make([]*slot, 0, 4)
	for _, si := range s.loads(bi) {
		if si == bi {
			own = s.slots[si].name
			continue
		}
		rest = append(rest, s.slots[si])
	}
	slices.SortFunc(rest, func(a, b *slot) int {
		ga, gb := a.bound < 0, b.bound < 0
		switch {
		case ga && !gb:
			return -1
		case gb && !ga:
			return 1
		case ga && gb && a.kind != b.kind:
			return int(a.kind) - int(b.kind)
		}
		return strings.Compare(a.name, b.name)
	})
	names := make([]string, 0, len(rest)+1)
	for _, sl := range rest {
		names = append(names, sl.name)
	}
	if own != "" {
		names = append(names, own)
	}
	return names
}

func idOf(i int) dag.ModuleID {
	id, err := safecast.Conv[dag.ModuleID](i)
	if err != nil {
		panic(fmt.Errorf("module id overflow: %w", err))
	}
	return id
}
