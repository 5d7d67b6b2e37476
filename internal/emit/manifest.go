package emit

import (
	"encoding/json"
	"path/filepath"
	"sort"

	"quire/internal/project/dag"
	"quire/internal/split"
)

// Manifest describes one build's output for whatever injects the scripts
// into pages or deploys them.
type Manifest struct {
	PublicPath string            `json:"publicPath"`
	Chunks     map[string]string `json:"chunks"` // chunk name -> file
	// Entrypoints lists per entry the files to load, in order.
	Entrypoints map[string][]string `json:"entrypoints"`
	Entries     []string            `json:"entries"` // entry chunk names
	// Async lists per dynamically imported module id the files to load.
	Async  map[string][]string `json:"async"`
	Assets []string            `json:"assets"`
}

// Marshal encodes the manifest deterministically.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Files returns every chunk file, sorted.
func (m *Manifest) Files() []string {
	out := make([]string, 0, len(m.Chunks))
	for _, f := range m.Chunks {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (e *Emitter) manifest(g *dag.Graph, part *split.Partition, files map[string]string) *Manifest {
	man := &Manifest{
		PublicPath:  e.opts.PublicPath,
		Chunks:      files,
		Entrypoints: make(map[string][]string, len(part.Initial)),
		Entries:     []string{},
		Async:       make(map[string][]string, len(part.Async)),
		Assets:      []string{},
	}
	toFiles := func(names []string) []string {
		out := make([]string, 0, len(names))
		for _, n := range names {
			out = append(out, files[n])
		}
		return out
	}
	for _, c := range part.Chunks {
		if c.Kind == split.KindEntry {
			man.Entries = append(man.Entries, c.Name)
		}
	}
	for entry, names := range part.Initial {
		man.Entrypoints[entry] = toFiles(names)
	}
	for root, names := range part.Async {
		man.Async[e.relID(g, root)] = toFiles(names)
	}
	seen := make(map[string]bool)
	for i := range g.Modules {
		for _, a := range g.Modules[i].Assets {
			if !seen[a.Name] {
				seen[a.Name] = true
				man.Assets = append(man.Assets, filepath.ToSlash(a.Name))
			}
		}
	}
	sort.Strings(man.Assets)
	return man
}
