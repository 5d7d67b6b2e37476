// Package buildpipeline runs a whole build: the module graph, the chunk
// split and the emitter, in that order.
package buildpipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"quire/internal/driver"
	"quire/internal/emit"
	"quire/internal/hooks"
	"quire/internal/loader"
	"quire/internal/observ"
	"quire/internal/project"
	"quire/internal/project/dag"
	"quire/internal/resolve"
	"quire/internal/split"
	"quire/internal/trace"
)

// statCacheSize bounds the resolver's per-build stat memo.
const statCacheSize = 8192

// Options configures a Session.
type Options struct {
	Progress ProgressSink
	Logger   *slog.Logger
	Timer    *observ.Timer
	// Hooks are registered after the configured banner, in order.
	Hooks []any
	// Stages are extra loader stages rules can name.
	Stages []loader.Stage
	// DryRun renders the chunks without writing anything.
	DryRun bool
}

// Result describes one build. Graph is set as soon as the graph stage
// produced one, even when the build failed afterwards.
type Result struct {
	Graph     *dag.Graph
	Partition *split.Partition
	Manifest  *emit.Manifest
	Artifacts []emit.Artifact // DryRun only
	// Cycles lists the modules on or behind a static import cycle. Cycles
	// are legal; chunks still evaluate every module once.
	Cycles  []string
	Stats   driver.Stats
	Timings Timings
}

// Build runs one build of cfg in a fresh session.
func Build(ctx context.Context, cfg project.Config, opts Options) (Result, error) {
	s, err := NewSession(cfg, opts)
	if err != nil {
		return Result{}, err
	}
	return s.Build(ctx)
}

// Session builds one configuration repeatedly, keeping the module caches
// warm between builds.
type Session struct {
	cfg      project.Config
	opts     Options
	pipeline *loader.Pipeline
	hooks    *hooks.Registry
	policy   split.Policy
	memory   *driver.ModuleCache
	disk     *driver.DiskCache
	emitter  *emit.Emitter

	building sync.Mutex   // one build at a time
	sink     ProgressSink // progress of the running build

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewSession validates cfg and prepares everything a build needs.
func NewSession(cfg project.Config, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pipeline, err := loader.FromConfig(cfg, opts.Stages...)
	if err != nil {
		return nil, err
	}
	policy, err := split.PolicyFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	reg := hooks.NewRegistry()
	if cfg.Output.Banner != "" {
		reg.Register(hooks.Banner{Text: cfg.Output.Banner})
	}
	for i, h := range opts.Hooks {
		if !reg.Register(h) {
			return nil, fmt.Errorf("hook %d (%T) implements no extension point", i, h)
		}
	}

	s := &Session{
		cfg:      cfg,
		opts:     opts,
		pipeline: pipeline,
		hooks:    reg,
		policy:   policy,
	}
	switch cfg.Cache.Type {
	case project.CacheMemory:
		s.memory = driver.NewModuleCache(0)
	case project.CacheFilesystem:
		s.memory = driver.NewModuleCache(0)
		compression, err := driver.ParseCompression(cfg.Cache.Compression)
		if err != nil {
			return nil, err
		}
		s.disk, err = driver.OpenDiskCache(cfg.Cache.Directory, compression)
		if err != nil {
			return nil, err
		}
	}

	eo := emit.OptionsFromConfig(cfg)
	eo.Hooks = reg
	eo.Logger = opts.Logger
	s.emitter = emit.New(eo)
	return s, nil
}

// SetProgress replaces the progress sink used by the next builds.
func (s *Session) SetProgress(sink ProgressSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Progress = sink
}

// Config returns the configuration the session builds.
func (s *Session) Config() project.Config { return s.cfg }

// Rebuild cancels a build of this session that is still running and then
// builds again. The superseded build returns context.Canceled.
func (s *Session) Rebuild(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()
	return s.Build(ctx)
}

// Build runs the graph, split and emit stages. Split and emit start only
// after the whole graph is known; a graph or split failure leaves the
// output directory untouched.
func (s *Session) Build(ctx context.Context) (res Result, err error) {
	s.building.Lock()
	defer s.building.Unlock()
	if err := ctx.Err(); err != nil {
		return res, err
	}
	s.mu.Lock()
	s.sink = s.opts.Progress
	s.mu.Unlock()

	start := time.Now()
	ctx, span := trace.Start(ctx, trace.ScopeBuild, "build")
	defer func() {
		detail := "ok"
		if err != nil {
			detail = err.Error()
		}
		span.WithExtra("modules", strconv.Itoa(res.Stats.Modules)).End(detail)
	}()

	unlock, err := s.disk.Lock(ctx)
	if err != nil {
		return res, fmt.Errorf("lock module cache: %w", err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			s.opts.Logger.Warn("module cache unlock failed", "err", uerr)
		}
	}()

	g, err := s.graph(ctx, &res)
	if err != nil {
		return res, err
	}
	part, err := s.split(ctx, g, &res)
	if err != nil {
		return res, err
	}
	if err := s.emit(ctx, g, part, &res); err != nil {
		return res, err
	}

	st := res.Stats
	s.opts.Logger.Info("build finished",
		"mode", string(s.cfg.Mode),
		"modules", st.Modules,
		"transformed", st.Transformed,
		"cache_hits", st.MemoryHits+st.DiskHits,
		"chunks", len(part.Chunks),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (s *Session) graph(ctx context.Context, res *Result) (*dag.Graph, error) {
	ctx, span := trace.Start(ctx, trace.ScopeStage, string(StageGraph))
	end := s.opts.Timer.Track(string(StageGraph))
	start := time.Now()
	emitStage(s.sink, StageGraph, StatusWorking, nil, 0)

	fs, err := resolve.NewCachedFS(resolve.OSFS{}, statCacheSize)
	if err != nil {
		return nil, err
	}
	b := driver.NewBuilder(driver.Options{
		Root: s.cfg.Root,
		Resolver: resolve.New(resolve.Options{
			Extensions: s.cfg.Resolve.Extensions,
			Alias:      s.cfg.Aliases(),
			Modules:    s.cfg.Resolve.Modules,
			MainFields: s.cfg.Resolve.MainFields,
			FS:         fs,
		}),
		Pipeline: s.pipeline,
		Hooks:    s.hooks,
		Jobs:     s.cfg.Optimization.Jobs,
		Policy:   driver.PolicyFor(s.cfg),
		Memory:   s.memory,
		Disk:     s.disk,
		Logger:   s.opts.Logger,
		OnModule: s.moduleEvent,
	})
	entries := make(map[string]string, len(s.cfg.Entries))
	for _, e := range s.cfg.Entries {
		entries[e.Name] = e.Specifier
	}

	g, err := b.Build(ctx, entries)
	res.Graph = g
	res.Stats = b.Stats()
	elapsed := time.Since(start)
	res.Timings.Set(StageGraph, elapsed)
	note := fmt.Sprintf("%d modules, %d transformed", res.Stats.Modules, res.Stats.Transformed)
	end(note)
	if err != nil {
		span.Fail(err)
		emitStage(s.sink, StageGraph, StatusError, err, elapsed)
		return nil, err
	}
	if layers := dag.Layer(g); layers.HasCycles() {
		for _, id := range g.CycleNames(layers) {
			res.Cycles = append(res.Cycles, s.rel(id))
		}
		for _, m := range res.Cycles {
			span.Point("cycle", m)
		}
		s.opts.Logger.Debug("circular imports", "modules", res.Cycles)
	}
	s.opts.Logger.Debug("module graph",
		"modules", g.Len(),
		"edges", g.EdgeCount(),
		"bytes", g.TotalSize())
	span.WithExtra("modules", strconv.Itoa(g.Len())).
		WithExtra("edges", strconv.Itoa(g.EdgeCount())).
		End(note)
	emitStage(s.sink, StageGraph, StatusDone, nil, elapsed)
	return g, nil
}

func (s *Session) moduleEvent(ev driver.ModuleEvent) {
	if s.sink == nil {
		return
	}
	status := StatusWorking
	switch ev.Status {
	case driver.ModuleTransformed:
		status = StatusDone
	case driver.ModuleCached:
		status = StatusCached
	case driver.ModuleFailed:
		status = StatusError
	}
	s.sink.OnEvent(Event{
		Module:  s.rel(ev.ID),
		Stage:   StageGraph,
		Status:  status,
		Err:     ev.Err,
		Elapsed: ev.Elapsed,
	})
}

func (s *Session) split(ctx context.Context, g *dag.Graph, res *Result) (*split.Partition, error) {
	_, span := trace.Start(ctx, trace.ScopeStage, string(StageSplit))
	end := s.opts.Timer.Track(string(StageSplit))
	start := time.Now()
	emitStage(s.sink, StageSplit, StatusWorking, nil, 0)

	part, err := split.Split(g, s.policy)
	elapsed := time.Since(start)
	res.Timings.Set(StageSplit, elapsed)
	if err != nil {
		end("failed")
		span.Fail(err)
		emitStage(s.sink, StageSplit, StatusError, err, elapsed)
		return nil, err
	}
	res.Partition = part
	note := fmt.Sprintf("%d chunks", len(part.Chunks))
	if len(part.Merged) > 0 {
		note += fmt.Sprintf(", %d merged", len(part.Merged))
		s.opts.Logger.Debug("chunk groups merged", "groups", part.Merged)
		for _, name := range part.Merged {
			span.Point("merged", name)
		}
	}
	end(note)
	span.End(note)
	emitStage(s.sink, StageSplit, StatusDone, nil, elapsed)
	return part, nil
}

func (s *Session) emit(ctx context.Context, g *dag.Graph, part *split.Partition, res *Result) error {
	ctx, span := trace.Start(ctx, trace.ScopeStage, string(StageEmit))
	end := s.opts.Timer.Track(string(StageEmit))
	start := time.Now()
	emitStage(s.sink, StageEmit, StatusWorking, nil, 0)

	var err error
	if s.opts.DryRun {
		res.Artifacts, res.Manifest, err = s.emitter.Render(ctx, g, part)
	} else {
		res.Manifest, err = s.emitter.Emit(ctx, g, part)
	}
	elapsed := time.Since(start)
	res.Timings.Set(StageEmit, elapsed)
	if err != nil {
		end("failed")
		span.Fail(err)
		emitStage(s.sink, StageEmit, StatusError, err, elapsed)
		return err
	}
	for _, file := range res.Manifest.Files() {
		span.Point("file", file)
	}
	note := fmt.Sprintf("%d files", len(res.Manifest.Chunks))
	if s.opts.DryRun {
		note += " (dry run)"
	}
	end(note)
	span.End(note)
	emitStage(s.sink, StageEmit, StatusDone, nil, elapsed)
	return nil
}

func (s *Session) rel(id string) string {
	if rel, err := filepath.Rel(s.cfg.Root, id); err == nil {
		return filepath.ToSlash(rel)
	}
	return id
}
