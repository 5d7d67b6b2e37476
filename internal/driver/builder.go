package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"quire/internal/hooks"
	"quire/internal/loader"
	"quire/internal/project"
	"quire/internal/project/dag"
	"quire/internal/resolve"
	"quire/internal/scan"
	"quire/internal/trace"
)

// ModuleStatus is the state reported by a ModuleEvent.
type ModuleStatus uint8

const (
	ModuleStarted ModuleStatus = iota
	ModuleTransformed
	ModuleCached
	ModuleFailed
)

func (s ModuleStatus) String() string {
	switch s {
	case ModuleStarted:
		return "started"
	case ModuleTransformed:
		return "transformed"
	case ModuleCached:
		return "cached"
	case ModuleFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ModuleEvent describes progress on one module.
type ModuleEvent struct {
	ID      string
	Status  ModuleStatus
	Err     error
	Elapsed time.Duration
}

// Stats counts what one Build did.
type Stats struct {
	Modules     int
	Transformed int
	MemoryHits  int
	DiskHits    int
	Failed      int
}

// Options configures a Builder.
type Options struct {
	Root     string // directory entry specifiers are resolved from
	Resolver *resolve.Resolver
	Pipeline *loader.Pipeline
	Hooks    *hooks.Registry
	Jobs     int // concurrent read/transform slots; GOMAXPROCS when <= 0
	Policy   ErrorPolicy
	Memory   *ModuleCache
	Disk     *DiskCache
	ReadFile func(path string) ([]byte, error)
	Logger   *slog.Logger
	// OnModule is called from worker goroutines and must be safe for concurrent use.
	OnModule func(ModuleEvent)
}

// Builder discovers the module graph from entry modules. A Builder runs one
// Build at a time.
type Builder struct {
	opts Options
	last *run
}

// NewBuilder creates a graph builder.
func NewBuilder(opts Options) *Builder {
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Jobs <= 0 {
		opts.Jobs = runtime.GOMAXPROCS(0)
	}
	return &Builder{opts: opts}
}

// Stats reports the counters of the last Build.
func (b *Builder) Stats() Stats {
	if b.last == nil {
		return Stats{}
	}
	r := b.last
	return Stats{
		Modules:     len(r.memo.nodes()),
		Transformed: int(r.transformed.Load()),
		MemoryHits:  int(r.memHits.Load()),
		DiskHits:    int(r.diskHits.Load()),
		Failed:      int(r.failed.Load()),
	}
}

type run struct {
	b    *Builder
	ctx  context.Context
	eg   *errgroup.Group
	sem  *semaphore.Weighted
	memo memo

	mu      sync.Mutex
	errs    []error
	entries map[string]string

	transformed atomic.Int64
	memHits     atomic.Int64
	diskHits    atomic.Int64
	failed      atomic.Int64
}

// Build resolves every entry specifier (entry name -> specifier) and
// traverses everything reachable from them. Under ContinueOnError the graph of
// the modules that did succeed is returned together with a *GraphError.
// When ctx is cancelled the in-flight modules are dropped from the memo and
// ctx.Err() is returned.
func (b *Builder) Build(ctx context.Context, entries map[string]string) (*dag.Graph, error) {
	if b.opts.Resolver == nil || b.opts.Pipeline == nil {
		return nil, errors.New("graph builder needs a resolver and a loader pipeline")
	}
	eg, gctx := errgroup.WithContext(ctx)
	r := &run{
		b:       b,
		ctx:     gctx,
		eg:      eg,
		sem:     semaphore.NewWeighted(int64(b.opts.Jobs)),
		entries: make(map[string]string, len(entries)),
	}
	b.last = r

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := entries[name]
		eg.Go(func() error {
			id, err := r.resolve(gctx, spec, b.opts.Root)
			if err != nil {
				return r.fail(fmt.Errorf("entry %q: %w", name, err))
			}
			r.mu.Lock()
			r.entries[name] = id
			r.mu.Unlock()
			r.enqueue(id)
			return nil
		})
	}

	waitErr := eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	errs := r.errors()
	if len(errs) > 0 {
		if b.opts.Policy == FailFast {
			return nil, &GraphError{Errors: errs}
		}
		return dag.BuildGraph(r.memo.nodes(), r.entries), &GraphError{Errors: errs}
	}
	if waitErr != nil {
		return nil, waitErr
	}
	return dag.BuildGraph(r.memo.nodes(), r.entries), nil
}

func (r *run) enqueue(id string) {
	t, owner := r.memo.claim(id)
	if !owner {
		return
	}
	r.eg.Go(func() error {
		return r.process(id, t)
	})
}

func (r *run) process(id string, t *task) error {
	ctx := r.ctx
	start := time.Now()
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeModule, "module", trace.CurrentSpan(ctx).SpanID).
		WithExtra("id", r.b.rel(id))
	r.notify(ModuleEvent{ID: id, Status: ModuleStarted})

	node, cached, err := r.load(ctx, id)
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			// отменённый модуль не должен остаться в memo
			r.memo.evict(id, t)
			t.finish(nil, err)
			span.End("cancelled")
			return err
		}
		t.finish(nil, err)
		r.failed.Add(1)
		span.Fail(err)
		r.notify(ModuleEvent{ID: id, Status: ModuleFailed, Err: err, Elapsed: time.Since(start)})
		return r.fail(err)
	}
	t.finish(node, nil)

	status := ModuleTransformed
	if cached {
		status = ModuleCached
	}
	span.End(status.String())
	r.notify(ModuleEvent{ID: id, Status: status, Elapsed: time.Since(start)})
	r.b.opts.Logger.Debug("module loaded", "module", r.b.rel(id), "status", status.String(), "deps", len(node.Deps))

	for _, dep := range node.Deps {
		r.enqueue(dep.Target)
	}
	return nil
}

// load reads, transforms (or fetches from cache) and scans one module and
// resolves its dependencies. It holds one I/O slot for its whole duration.
func (r *run) load(ctx context.Context, id string) (*dag.Node, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}
	defer r.sem.Release(1)

	raw, err := r.b.opts.ReadFile(id)
	if err != nil {
		return nil, false, fmt.Errorf("read module: %w", err)
	}
	content := project.HashBytes(raw)
	chain := r.b.opts.Pipeline.ChainID(id)
	if extra := r.b.opts.Hooks.TransformIdentity(); extra != "" {
		chain += "+" + extra
	}

	cm, cached := r.lookup(id, content, chain)
	if !cached {
		cm, err = r.transform(ctx, id, raw, content, chain)
		if err != nil {
			return nil, false, err
		}
		r.store(id, cm)
	}

	deps, err := r.resolveDeps(ctx, id, cm.Imports)
	if err != nil {
		return nil, false, err
	}
	return &dag.Node{
		Module: dag.Module{
			ID:          id,
			Raw:         raw,
			Code:        cm.Code,
			Imports:     cm.Imports,
			Exports:     cm.Exports,
			Assets:      cm.Assets,
			ContentHash: content,
			Chain:       chain,
		},
		Deps: deps,
	}, cached, nil
}

func (r *run) lookup(id string, content project.Digest, chain string) (*CachedModule, bool) {
	if cm, ok := r.b.opts.Memory.Get(id, content, chain); ok {
		r.memHits.Add(1)
		return cm, true
	}
	disk := r.b.opts.Disk
	if disk == nil {
		return nil, false
	}
	var payload DiskPayload
	ok, err := disk.Get(disk.Key(id, content, chain), &payload)
	if err != nil {
		r.b.opts.Logger.Warn("disk cache read failed", "module", r.b.rel(id), "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	cm := diskPayloadToModule(&payload, id, content, chain)
	if cm == nil {
		return nil, false
	}
	r.diskHits.Add(1)
	r.b.opts.Memory.Put(id, cm)
	return cm, true
}

func (r *run) store(id string, cm *CachedModule) {
	r.b.opts.Memory.Put(id, cm)
	disk := r.b.opts.Disk
	if disk == nil {
		return
	}
	if err := disk.Put(disk.Key(id, cm.Content, cm.Chain), moduleToDiskPayload(id, cm)); err != nil {
		r.b.opts.Logger.Warn("disk cache write failed", "module", r.b.rel(id), "err", err)
	}
}

func (r *run) transform(ctx context.Context, id string, raw []byte, content project.Digest, chain string) (*CachedModule, error) {
	src, err := r.b.opts.Pipeline.Apply(ctx, id, raw)
	if err != nil {
		return nil, err
	}
	tm := &hooks.TransformedModule{ID: id, Code: src.Code}
	if err := r.b.opts.Hooks.PostTransform(ctx, tm); err != nil {
		return nil, &loader.TransformError{Path: id, Stage: "post-transform", Err: err}
	}
	r.transformed.Add(1)

	res := scan.Scan(tm.Code)
	exports := res.Exports
	if loader.LangOf(id) == loader.LangJS {
		// the CommonJS output hides ES export names behind helpers
		if own := scan.Scan(raw).Exports; len(own) > 0 {
			exports = own
		}
	}
	assets := make([]dag.Asset, 0, len(src.Assets))
	for _, a := range src.Assets {
		assets = append(assets, dag.Asset{Name: a.Name, Data: a.Data})
	}
	return &CachedModule{
		Content: content,
		Chain:   chain,
		Code:    tm.Code,
		Imports: res.Imports,
		Exports: exports,
		Assets:  assets,
	}, nil
}

// resolveDeps maps the module's imports to canonical ids. Under
// ContinueOnError an unresolvable import is recorded and its edge dropped.
func (r *run) resolveDeps(ctx context.Context, id string, imports []scan.Import) ([]dag.Dep, error) {
	type key struct {
		spec    string
		dynamic bool
	}
	seen := make(map[key]struct{}, len(imports))
	deps := make([]dag.Dep, 0, len(imports))
	fromDir := filepath.Dir(id)
	for _, imp := range imports {
		k := key{spec: imp.Specifier, dynamic: imp.Kind == scan.Dynamic}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		target, err := r.resolve(ctx, imp.Specifier, fromDir)
		if err != nil {
			err = fmt.Errorf("%s: %w", r.b.rel(id), err)
			if r.b.opts.Policy == FailFast {
				return nil, err
			}
			_ = r.fail(err)
			continue
		}
		deps = append(deps, dag.Dep{Specifier: imp.Specifier, Target: target, Dynamic: k.dynamic})
	}
	return deps, nil
}

func (r *run) resolve(ctx context.Context, specifier, fromDir string) (string, error) {
	req := &hooks.ResolveRequest{Specifier: specifier, FromDir: fromDir}
	if err := r.b.opts.Hooks.PreResolve(ctx, req); err != nil {
		return "", err
	}
	return r.b.opts.Resolver.Resolve(req.Specifier, req.FromDir)
}

// fail records err. Under FailFast only the first failure is kept and err is
// returned so the errgroup cancels the rest of the traversal.
func (r *run) fail(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.b.opts.Policy == FailFast {
		if len(r.errs) == 0 {
			r.errs = append(r.errs, err)
		}
		return err
	}
	r.errs = append(r.errs, err)
	return nil
}

func (r *run) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := append([]error(nil), r.errs...)
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errs
}

func (r *run) notify(ev ModuleEvent) {
	if r.b.opts.OnModule != nil {
		r.b.opts.OnModule(ev)
	}
}

// rel shortens id for logs and traces.
func (b *Builder) rel(id string) string {
	if b.opts.Root == "" {
		return id
	}
	if rel, err := filepath.Rel(b.opts.Root, id); err == nil {
		return filepath.ToSlash(rel)
	}
	return id
}
