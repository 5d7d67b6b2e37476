package split

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"quire/internal/project"
	"quire/internal/project/dag"
)

type mod struct {
	id      string
	size    int
	static  []string
	dynamic []string
}

func graph(entries map[string]string, mods ...mod) *dag.Graph {
	nodes := make([]dag.Node, 0, len(mods))
	for _, m := range mods {
		n := dag.Node{Module: dag.Module{ID: m.id, Code: []byte(strings.Repeat("x", m.size))}}
		for _, t := range m.static {
			n.Deps = append(n.Deps, dag.Dep{Specifier: t, Target: t})
		}
		for _, t := range m.dynamic {
			n.Deps = append(n.Deps, dag.Dep{Specifier: t, Target: t, Dynamic: true})
		}
		nodes = append(nodes, n)
	}
	return dag.BuildGraph(nodes, entries)
}

func testPolicy() Policy {
	return Policy{
		MinChunks:          1,
		MaxAsyncRequests:   30,
		MaxInitialRequests: 30,
		Vendor:             regexp.MustCompile(project.DefaultVendorTest),
		VendorName:         "vendors",
		CommonName:         "common",
		Root:               "/app",
	}
}

func chunkModules(t *testing.T, g *dag.Graph, p *Partition, name string) []string {
	t.Helper()
	c, ok := p.Chunk(name)
	if !ok {
		t.Fatalf("no chunk %q in %v", name, chunkNames(p))
	}
	out := make([]string, 0, len(c.Modules))
	for _, id := range c.Modules {
		out = append(out, g.Name(id))
	}
	return out
}

func chunkNames(p *Partition) []string {
	names := make([]string, 0, len(p.Chunks))
	for _, c := range p.Chunks {
		names = append(names, c.Name)
	}
	return names
}

const (
	mainJS   = "/app/src/main.js"
	utilsJS  = "/app/src/utils.js"
	vendorJS = "/app/node_modules/vendor-lib/index.js"
)

func TestVendorLibLandsInVendorChunk(t *testing.T) {
	g := graph(map[string]string{"main": mainJS},
		mod{id: mainJS, size: 100, static: []string{utilsJS, vendorJS}},
		mod{id: utilsJS, size: 50},
		mod{id: vendorJS, size: 500},
	)
	p, err := Split(g, testPolicy())
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got := chunkNames(p); !reflect.DeepEqual(got, []string{"main", "vendors"}) {
		t.Fatalf("chunks = %v, want [main vendors]", got)
	}
	if got := chunkModules(t, g, p, "main"); !reflect.DeepEqual(got, []string{mainJS, utilsJS}) {
		t.Fatalf("main chunk = %v", got)
	}
	if got := chunkModules(t, g, p, "vendors"); !reflect.DeepEqual(got, []string{vendorJS}) {
		t.Fatalf("vendors chunk = %v", got)
	}
	if got := p.Initial["main"]; !reflect.DeepEqual(got, []string{"vendors", "main"}) {
		t.Fatalf("initial load list = %v", got)
	}
	if c, _ := p.Chunk("vendors"); c.Kind != KindVendor || c.Size != 500 {
		t.Fatalf("vendors chunk = %+v", c)
	}
}

func TestSmallVendorGroupMergesBack(t *testing.T) {
	g := graph(map[string]string{"main": mainJS},
		mod{id: mainJS, size: 100, static: []string{utilsJS, vendorJS}},
		mod{id: utilsJS, size: 50},
		mod{id: vendorJS, size: 500},
	)
	pol := testPolicy()
	pol.MinSize = 1000000
	p, err := Split(g, pol)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got := chunkNames(p); !reflect.DeepEqual(got, []string{"main"}) {
		t.Fatalf("chunks = %v, want only main", got)
	}
	if got := chunkModules(t, g, p, "main"); len(got) != 3 {
		t.Fatalf("main chunk = %v, want all three modules", got)
	}
	if !reflect.DeepEqual(p.Merged, []string{"vendors"}) {
		t.Fatalf("merged = %v", p.Merged)
	}
}

func TestEnforceSizeThresholdKeepsGroup(t *testing.T) {
	g := graph(map[string]string{"main": mainJS},
		mod{id: mainJS, size: 100, static: []string{vendorJS}},
		mod{id: vendorJS, size: 500},
	)
	pol := testPolicy()
	pol.MinSize = 1000
	pol.EnforceSizeThreshold = 400
	pol.MaxInitialRequests = 1
	p, err := Split(g, pol)
	if err == nil {
		t.Fatalf("an enforced group cannot be dissolved; want a policy error, got %v", chunkNames(p))
	}
	pol.MaxInitialRequests = 30
	p, err = Split(g, pol)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	c, ok := p.Chunk("vendors")
	if !ok || !c.Enforced {
		t.Fatalf("vendors chunk missing or not enforced: %v", chunkNames(p))
	}
}

func TestCommonGroupAcrossEntries(t *testing.T) {
	const a, b, shared = "/app/src/a.js", "/app/src/b.js", "/app/src/shared.js"
	g := graph(map[string]string{"a": a, "b": b},
		mod{id: a, size: 10, static: []string{shared}},
		mod{id: b, size: 10, static: []string{shared}},
		mod{id: shared, size: 100},
	)
	p, err := Split(g, testPolicy())
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got := chunkModules(t, g, p, "common"); !reflect.DeepEqual(got, []string{shared}) {
		t.Fatalf("common chunk = %v", got)
	}
	if got := p.Initial["b"]; !reflect.DeepEqual(got, []string{"common", "b"}) {
		t.Fatalf("load list of b = %v", got)
	}

	// below minSize, but two entries load it: it cannot live in either entry chunk
	pol := testPolicy()
	pol.MinSize = 1000
	p, err = Split(g, pol)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got := chunkModules(t, g, p, "common"); !reflect.DeepEqual(got, []string{shared}) {
		t.Fatalf("common chunk below minSize = %v", got)
	}
	if len(p.Merged) != 0 {
		t.Fatalf("merged = %v, want none", p.Merged)
	}
}

func TestAsyncBoundaryGetsOwnChunk(t *testing.T) {
	const about, widgets = "/app/src/pages/about.js", "/app/src/widgets.js"
	g := graph(map[string]string{"main": mainJS},
		mod{id: mainJS, size: 100, static: []string{utilsJS}, dynamic: []string{about}},
		mod{id: about, size: 80, static: []string{widgets, utilsJS}},
		mod{id: widgets, size: 30},
		mod{id: utilsJS, size: 10},
	)
	pol := testPolicy()
	pol.MinSize = 1000
	p, err := Split(g, pol)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got := chunkNames(p); !reflect.DeepEqual(got, []string{"main", "src_pages_about_js"}) {
		t.Fatalf("chunks = %v", got)
	}
	if got := chunkModules(t, g, p, "src_pages_about_js"); !reflect.DeepEqual(got, []string{about, widgets}) {
		t.Fatalf("async chunk = %v", got)
	}
	if got := chunkModules(t, g, p, "main"); !reflect.DeepEqual(got, []string{mainJS, utilsJS}) {
		t.Fatalf("main chunk = %v", got)
	}
	aboutID, _ := g.Lookup(about)
	if got := p.Async[aboutID]; !reflect.DeepEqual(got, []string{"main", "src_pages_about_js"}) {
		t.Fatalf("async load list = %v", got)
	}
	if c := p.ChunkOf(aboutID); c.Kind != KindAsync || c.Root != aboutID {
		t.Fatalf("chunk of about = %+v", c)
	}
	if !reflect.DeepEqual(p.Merged, []string{"common"}) {
		t.Fatalf("merged = %v", p.Merged)
	}
}

func TestRequestLimitDissolvesSmallestGroup(t *testing.T) {
	const page, shared = "/app/src/page.js", "/app/src/shared.js"
	tests := []struct {
		name       string
		vendorSize int
		sharedSize int
		merged     string
	}{
		{"common is smaller", 500, 100, "common"},
		{"vendors is smaller", 50, 100, "vendors"},
		{"equal sizes break by name", 100, 100, "common"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graph(map[string]string{"main": mainJS},
				mod{id: mainJS, size: 10, static: []string{vendorJS, shared}, dynamic: []string{page}},
				mod{id: page, size: 10, static: []string{shared}},
				mod{id: shared, size: tt.sharedSize},
				mod{id: vendorJS, size: tt.vendorSize},
			)
			pol := testPolicy()
			p, err := Split(g, pol)
			if err != nil {
				t.Fatalf("unconstrained Split: %v", err)
			}
			if n := len(p.Initial["main"]); n != 3 {
				t.Fatalf("unconstrained main loads %v", p.Initial["main"])
			}
			pol.MaxInitialRequests = 2
			p, err = Split(g, pol)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if !reflect.DeepEqual(p.Merged, []string{tt.merged}) {
				t.Fatalf("merged = %v, want [%s]", p.Merged, tt.merged)
			}
			if n := len(p.Initial["main"]); n != 2 {
				t.Fatalf("main loads %v", p.Initial["main"])
			}
		})
	}
}

func TestRequestLimitUnsatisfiable(t *testing.T) {
	const a, b = "/app/src/a.js", "/app/src/b.js"
	g := graph(map[string]string{"a": a, "b": b},
		mod{id: a, size: 10, static: []string{vendorJS}},
		mod{id: b, size: 10, static: []string{vendorJS}},
		mod{id: vendorJS, size: 10},
	)
	pol := testPolicy()
	pol.MaxInitialRequests = 1
	_, err := Split(g, pol)
	var perr *SplitPolicyError
	if !errors.As(err, &perr) || perr.Constraint != "maxInitialRequests" {
		t.Fatalf("error = %v, want maxInitialRequests policy error", err)
	}
}

func TestInvalidPolicies(t *testing.T) {
	g := graph(map[string]string{"vendors": mainJS}, mod{id: mainJS, size: 1})
	ok := graph(map[string]string{"main": mainJS}, mod{id: mainJS, size: 1})
	tests := []struct {
		name       string
		mutate     func(*Policy)
		g          *dag.Graph
		constraint string
	}{
		{"min chunks", func(p *Policy) { p.MinChunks = 0 }, ok, "minChunks"},
		{"negative min size", func(p *Policy) { p.MinSize = -1 }, ok, "minSize"},
		{"async requests", func(p *Policy) { p.MaxAsyncRequests = 0 }, ok, "maxAsyncRequests"},
		{"same group names", func(p *Policy) { p.CommonName = "vendors" }, ok, "cacheGroups"},
		{"entry named like a group", func(*Policy) {}, g, "cacheGroups"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol := testPolicy()
			tt.mutate(&pol)
			_, err := Split(tt.g, pol)
			var perr *SplitPolicyError
			if !errors.As(err, &perr) || perr.Constraint != tt.constraint {
				t.Fatalf("error = %v, want %s policy error", err, tt.constraint)
			}
		})
	}
}

func TestSplitWithoutEntries(t *testing.T) {
	g := graph(nil, mod{id: mainJS, size: 1})
	if _, err := Split(g, testPolicy()); !errors.Is(err, ErrNoEntries) {
		t.Fatalf("error = %v, want ErrNoEntries", err)
	}
}

func TestPartitionCoversEveryModuleOnceAndIsStable(t *testing.T) {
	mods := []mod{
		{id: "/app/src/admin.js", size: 40, static: []string{"/app/src/ui.js", "/app/node_modules/react/index.js"}, dynamic: []string{"/app/src/report.js"}},
		{id: "/app/src/main.js", size: 40, static: []string{"/app/src/ui.js", "/app/src/store.js"}, dynamic: []string{"/app/src/report.js", "/app/src/settings.js"}},
		{id: "/app/src/ui.js", size: 300, static: []string{"/app/node_modules/react/index.js"}},
		{id: "/app/src/store.js", size: 120, static: []string{"/app/src/ui.js"}},
		{id: "/app/src/report.js", size: 90, static: []string{"/app/node_modules/chart/index.js", "/app/src/store.js"}},
		{id: "/app/src/settings.js", size: 70, static: []string{"/app/src/main.js"}},
		{id: "/app/node_modules/react/index.js", size: 900},
		{id: "/app/node_modules/chart/index.js", size: 400},
	}
	entries := map[string]string{"main": "/app/src/main.js", "admin": "/app/src/admin.js"}
	pol := testPolicy()
	pol.MinSize = 200

	first, err := Split(graph(entries, mods...), pol)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	// reversed input order must not change anything
	rev := make([]mod, len(mods))
	for i := range mods {
		rev[len(mods)-1-i] = mods[i]
	}
	second, err := Split(graph(entries, rev...), pol)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !reflect.DeepEqual(first.Chunks, second.Chunks) || !reflect.DeepEqual(first.Initial, second.Initial) || !reflect.DeepEqual(first.Async, second.Async) {
		t.Fatalf("partition depends on input order:\n%+v\n%+v", first.Chunks, second.Chunks)
	}

	g := graph(entries, mods...)
	seen := make(map[dag.ModuleID]string)
	for _, c := range first.Chunks {
		for _, id := range c.Modules {
			if prev, dup := seen[id]; dup {
				t.Fatalf("module %s in chunks %s and %s", g.Name(id), prev, c.Name)
			}
			seen[id] = c.Name
		}
	}
	if len(seen) != g.Len() {
		t.Fatalf("%d of %d modules assigned", len(seen), g.Len())
	}
	for _, name := range []string{"main", "admin"} {
		for _, chunk := range first.Initial[name] {
			if c, _ := first.Chunk(chunk); c.Kind == KindEntry && c.Name != name {
				t.Fatalf("entry %s loads the entry chunk %s", name, chunk)
			}
		}
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := project.Defaults("/app", project.ModeProduction)
	p, err := PolicyFromConfig(cfg)
	if err != nil {
		t.Fatalf("PolicyFromConfig: %v", err)
	}
	if p.MinSize != 20000 || p.MinChunks != 1 || p.MaxInitialRequests != 30 || p.EnforceSizeThreshold != 50000 {
		t.Fatalf("policy = %+v", p)
	}
	if !p.isVendor("/app/node_modules/react/index.js") || p.isVendor("/app/src/node_modules.js") {
		t.Fatalf("default vendor test is wrong")
	}
	if p.commonMinChunks() != 2 {
		t.Fatalf("common group must need two consumers")
	}
}
