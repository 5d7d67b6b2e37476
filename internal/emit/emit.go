// Package emit renders chunks into artifacts and writes them with a manifest.
//
// Emission is all-or-nothing as far as the previous output is concerned:
// every artifact is rendered in memory before the output directory is
// touched, and manifest.json is written last.
package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"quire/internal/hooks"
	"quire/internal/project"
	"quire/internal/project/dag"
	"quire/internal/scan"
	"quire/internal/split"
)

// ManifestName is the file the manifest is written to.
const ManifestName = "manifest.json"

// DefaultFilename is the chunk file name template used when none is set.
const DefaultFilename = "[name].bundle.js"

// EmitError reports an output failure. No manifest is written after one.
type EmitError struct {
	Path string
	Op   string
	Err  error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("emit: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *EmitError) Unwrap() error {
	return e.Err
}

// Options configures an Emitter.
type Options struct {
	OutDir     string
	Filename   string // supports [name] and [contenthash]
	PublicPath string
	Root       string // module ids in artifacts are relative to it
	Clean      bool
	Keep       []string // top-level names in OutDir that survive Clean
	Minify     bool
	Hooks      *hooks.Registry
	Logger     *slog.Logger
}

// OptionsFromConfig maps the output and optimization sections of cfg.
func OptionsFromConfig(cfg project.Config) Options {
	opts := Options{
		OutDir:     cfg.Output.Path,
		Filename:   cfg.Output.Filename,
		PublicPath: cfg.Output.PublicPath,
		Root:       cfg.Root,
		Clean:      cfg.Output.Clean,
		Minify:     cfg.Optimization.Minimize,
	}
	if cfg.Cache.Type == project.CacheFilesystem {
		// the cache directory may live inside the output directory
		if project.PathWithin(cfg.Output.Path, cfg.Cache.Directory) {
			rel, _ := filepath.Rel(cfg.Output.Path, cfg.Cache.Directory)
			opts.Keep = append(opts.Keep, strings.SplitN(filepath.ToSlash(rel), "/", 2)[0])
		}
	}
	return opts
}

// Artifact is one rendered chunk.
type Artifact struct {
	Chunk string
	File  string // relative to the output directory, slash separated
	Code  []byte
}

// Emitter writes build output.
type Emitter struct {
	opts Options
}

// New creates an emitter.
func New(opts Options) *Emitter {
	if opts.Filename == "" {
		opts.Filename = DefaultFilename
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Emitter{opts: opts}
}

// Emit renders every chunk of part and, when all of them rendered, replaces
// the output directory contents with the artifacts, assets and manifest.
func (e *Emitter) Emit(ctx context.Context, g *dag.Graph, part *split.Partition) (*Manifest, error) {
	arts, man, err := e.Render(ctx, g, part)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.write(g, arts, man); err != nil {
		return nil, err
	}
	e.opts.Logger.Info("output written", "dir", e.opts.OutDir, "chunks", len(arts), "assets", len(man.Assets))
	return man, nil
}

// Render produces the artifacts and manifest without touching the disk.
func (e *Emitter) Render(ctx context.Context, g *dag.Graph, part *split.Partition) ([]Artifact, *Manifest, error) {
	files := e.fileNames(g, part)
	man := e.manifest(g, part, files)

	arts := make([]Artifact, 0, len(part.Chunks))
	for i := range part.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		c := &part.Chunks[i]
		file := files[c.Name]
		code, err := e.renderChunk(g, part, c, man)
		if err != nil {
			return nil, nil, &EmitError{Path: file, Op: "render", Err: err}
		}
		if e.opts.Minify {
			code, err = minify(code, file)
			if err != nil {
				return nil, nil, &EmitError{Path: file, Op: "minify", Err: err}
			}
		}
		art := &hooks.Artifact{Chunk: c.Name, File: file, Code: code}
		if err := e.opts.Hooks.PreEmit(ctx, art); err != nil {
			return nil, nil, &EmitError{Path: file, Op: "pre-emit", Err: err}
		}
		arts = append(arts, Artifact{Chunk: c.Name, File: file, Code: art.Code})
	}
	return arts, man, nil
}

// relID is the id a module gets inside artifacts: its slash path relative to
// the project root.
func (e *Emitter) relID(g *dag.Graph, id dag.ModuleID) string {
	name := g.Name(id)
	if e.opts.Root != "" {
		if rel, err := filepath.Rel(e.opts.Root, name); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(name)
}

// fileNames expands the filename template for every chunk. [contenthash]
// covers the modules of the chunk and, for entry chunks, the file names of
// the non-entry chunks they reference, so it is known before rendering.
func (e *Emitter) fileNames(g *dag.Graph, part *split.Partition) map[string]string {
	files := make(map[string]string, len(part.Chunks))
	var shared bytes.Buffer
	for _, entries := range []bool{false, true} {
		for i := range part.Chunks {
			c := &part.Chunks[i]
			if (c.Kind == split.KindEntry) != entries {
				continue
			}
			var buf bytes.Buffer
			fmt.Fprintf(&buf, "%s\x00%s\x00%t\x00%s\x00", c.Name, c.Kind, e.opts.Minify, e.opts.PublicPath)
			for _, id := range c.Modules {
				m := g.Module(id)
				buf.WriteString(e.relID(g, id))
				buf.WriteByte(0)
				buf.Write(m.ContentHash[:])
				buf.WriteString(m.Chain)
				for _, edge := range g.Edges[id] {
					fmt.Fprintf(&buf, "\x00%s>%s", edge.Specifier, e.relID(g, edge.To))
				}
			}
			if entries {
				buf.Write(shared.Bytes())
			}
			name := strings.ReplaceAll(e.opts.Filename, "[name]", c.Name)
			name = strings.ReplaceAll(name, "[contenthash]", project.HashBytes(buf.Bytes()).Short(20))
			files[c.Name] = name
			if !entries {
				fmt.Fprintf(&shared, "%s=%s\x00", c.Name, name)
			}
		}
	}
	return files
}

func (e *Emitter) renderChunk(g *dag.Graph, part *split.Partition, c *split.Chunk, man *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(runtime)
	fmt.Fprintf(&buf, "__quire__.chunk(%s);\n", jsString(c.Name))
	for _, id := range dag.DependencyOrder(g, c.Modules) {
		if err := e.writeModule(&buf, g, id); err != nil {
			return nil, err
		}
	}
	if c.Kind != split.KindEntry {
		return buf.Bytes(), nil
	}

	fileMap, err := json.Marshal(man.Chunks)
	if err != nil {
		return nil, err
	}
	asyncMap := make(map[string][]string, len(part.Async))
	for root, names := range part.Async {
		asyncMap[e.relID(g, root)] = names
	}
	asyncJSON, err := json.Marshal(asyncMap)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, "__quire__.manifest(%s, %s, %s);\n", jsString(e.opts.PublicPath), fileMap, asyncJSON)

	load := part.Initial[c.Entry]
	if load == nil {
		load = []string{}
	}
	loadJSON, err := json.Marshal(load)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, "__quire__.run(%s, %s);\n", jsString(e.relID(g, c.Root)), loadJSON)
	return buf.Bytes(), nil
}

// writeModule wraps one module in a define call. The dependency map sends
// each specifier the module uses to the id of the module it resolved to.
func (e *Emitter) writeModule(buf *bytes.Buffer, g *dag.Graph, id dag.ModuleID) error {
	deps := make(map[string]string, len(g.Edges[id]))
	for _, edge := range g.Edges[id] {
		deps[edge.Specifier] = e.relID(g, edge.To)
	}
	depJSON, err := json.Marshal(deps)
	if err != nil {
		return err
	}
	m := g.Module(id)
	fmt.Fprintf(buf, "__quire__.define(%s, %s, function (module, exports, require) {\n", jsString(e.relID(g, id)), depJSON)
	buf.Write(rewriteDynamicImports(m.Code, m.Imports))
	if n := len(m.Code); n > 0 && m.Code[n-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString("});\n")
	return nil
}

// rewriteDynamicImports turns every import("x") into require.async("x").
func rewriteDynamicImports(code []byte, imports []scan.Import) []byte {
	var out []byte
	last := 0
	for _, imp := range imports {
		if imp.Kind != scan.Dynamic || imp.Start < last || imp.End > len(code) {
			continue
		}
		if out == nil {
			out = make([]byte, 0, len(code)+16)
		}
		out = append(out, code[last:imp.Start]...)
		out = append(out, "require.async"...)
		last = imp.End
	}
	if out == nil {
		return code
	}
	return append(out, code[last:]...)
}

func minify(code []byte, file string) ([]byte, error) {
	res := api.Transform(string(code), api.TransformOptions{
		Loader:            api.LoaderJS,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		Sourcefile:        path.Base(file),
	})
	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, m := range res.Errors {
			msgs = append(msgs, m.Text)
		}
		return nil, errors.New(strings.Join(msgs, "; "))
	}
	return res.Code, nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// write cleans the output directory and writes everything, the manifest last.
func (e *Emitter) write(g *dag.Graph, arts []Artifact, man *Manifest) error {
	dir := e.opts.OutDir
	if e.opts.Clean {
		if err := e.clean(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &EmitError{Path: dir, Op: "mkdir", Err: err}
	}
	for _, art := range arts {
		if err := writeAtomic(filepath.Join(dir, filepath.FromSlash(art.File)), art.Code); err != nil {
			return err
		}
	}
	written := make(map[string]bool, len(man.Assets))
	for i := range g.Modules {
		for _, a := range g.Modules[i].Assets {
			if written[a.Name] {
				continue
			}
			written[a.Name] = true
			if err := writeAtomic(filepath.Join(dir, filepath.FromSlash(a.Name)), a.Data); err != nil {
				return err
			}
		}
	}
	data, err := man.Marshal()
	if err != nil {
		return &EmitError{Path: ManifestName, Op: "encode", Err: err}
	}
	return writeAtomic(filepath.Join(dir, ManifestName), data)
}

// clean removes everything in the output directory except the Keep names.
func (e *Emitter) clean() error {
	dir := e.opts.OutDir
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &EmitError{Path: dir, Op: "clean", Err: err}
	}
	e.opts.Logger.Warn("cleaning output directory", "dir", dir, "entries", len(entries), "keep", e.opts.Keep)
	for _, ent := range entries {
		if slices.Contains(e.opts.Keep, ent.Name()) {
			continue
		}
		p := filepath.Join(dir, ent.Name())
		if err := os.RemoveAll(p); err != nil {
			return &EmitError{Path: p, Op: "clean", Err: err}
		}
	}
	return nil
}

func writeAtomic(p string, data []byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return &EmitError{Path: filepath.Dir(p), Op: "mkdir", Err: err}
	}
	f, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return &EmitError{Path: p, Op: "write", Err: err}
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return &EmitError{Path: p, Op: "write", Err: err}
	}
	if err = f.Close(); err != nil {
		return &EmitError{Path: p, Op: "write", Err: err}
	}
	if err = os.Rename(f.Name(), p); err != nil {
		return &EmitError{Path: p, Op: "rename", Err: err}
	}
	return nil
}
