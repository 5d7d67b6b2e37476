// Package loader turns the raw bytes of a module into executable module code.
//
// A Pipeline holds the compiled module rules of a build. For every file it
// selects an ordered chain of named stages and runs them one after another,
// each stage receiving the previous stage's output.
package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"quire/internal/project"
)

// Lang is the language a Source currently holds.
type Lang uint8

const (
	LangJS Lang = iota
	LangCSS
	LangJSON
	LangOther
)

func (l Lang) String() string {
	switch l {
	case LangJS:
		return "js"
	case LangCSS:
		return "css"
	case LangJSON:
		return "json"
	default:
		return "other"
	}
}

// LangOf guesses the language of a file from its extension.
func LangOf(path string) Lang {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".mts", ".cts":
		return LangJS
	case ".css":
		return LangCSS
	case ".json":
		return LangJSON
	default:
		return LangOther
	}
}

// Asset is a file emitted next to the chunks, e.g. an image.
type Asset struct {
	Name string // output-relative slash path
	Data []byte
}

// Source is the value threaded through a chain of stages.
type Source struct {
	Path   string
	Code   []byte
	Lang   Lang
	Assets []Asset

	// stylesheet state shared by the css and style stages
	sheet  *stylesheet
	inject bool
}

// Stage is one named transformation step.
type Stage interface {
	Name() string
	Transform(ctx context.Context, src *Source) error
}

// Fingerprinter is implemented by stages whose output depends on options.
// The fingerprint becomes part of the chain identity used as a cache key.
type Fingerprinter interface {
	Fingerprint() string
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, src *Source) error
}

func (f StageFunc) Name() string { return f.StageName }

func (f StageFunc) Transform(ctx context.Context, src *Source) error {
	return f.Fn(ctx, src)
}

var (
	// ErrUnknownStage is returned by New for a rule naming a stage that does not exist.
	ErrUnknownStage = errors.New("unknown loader")
	// ErrNotJavaScript is the cause of a TransformError for a module whose
	// chain did not produce JavaScript.
	ErrNotJavaScript = errors.New("no loader produced JavaScript for this file")
)

// TransformError reports a failed stage. The module's output is discarded.
type TransformError struct {
	Path  string
	Stage string
	Err   error
}

func (e *TransformError) Error() string {
	if e == nil {
		return ""
	}
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Stage, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Options configures a Pipeline.
type Options struct {
	Rules      []project.Rule
	Define     map[string]string
	PublicPath string
	// Stages registers additional stages or replaces built-in ones by name.
	Stages []Stage
}

type rule struct {
	test    *regexp.Regexp
	exclude *regexp.Regexp
	include *regexp.Regexp
	stages  []string
}

func (r rule) matches(path string) bool {
	if !r.test.MatchString(path) {
		return false
	}
	if r.include != nil && !r.include.MatchString(path) {
		return false
	}
	if r.exclude != nil && r.exclude.MatchString(path) {
		return false
	}
	return true
}

// Pipeline selects and applies loader chains. It is immutable after New and
// safe for concurrent use.
type Pipeline struct {
	rules  []rule
	stages map[string]Stage
}

// aliases maps webpack loader names to built-in stage names.
var aliases = map[string]string{
	"babel-loader": "babel",
	"css-loader":   "css",
	"style-loader": "style",
	"json-loader":  "json",
	"raw-loader":   "raw",
	"file-loader":  "asset",
}

func canonical(name string) string {
	name = strings.TrimSpace(name)
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// New compiles rules and registers the built-in stages.
func New(opts Options) (*Pipeline, error) {
	p := &Pipeline{stages: make(map[string]Stage)}
	for _, st := range builtins(opts) {
		p.stages[st.Name()] = st
	}
	for _, st := range opts.Stages {
		p.stages[canonical(st.Name())] = st
	}
	for i, r := range opts.Rules {
		compiled, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("module rule %d: %w", i, err)
		}
		for _, name := range compiled.stages {
			if _, ok := p.stages[name]; !ok {
				return nil, fmt.Errorf("module rule %d: %w %q", i, ErrUnknownStage, name)
			}
		}
		p.rules = append(p.rules, compiled)
	}
	return p, nil
}

// FromConfig builds the pipeline described by cfg.
func FromConfig(cfg project.Config, extra ...Stage) (*Pipeline, error) {
	return New(Options{
		Rules:      cfg.Rules,
		Define:     cfg.Defines(),
		PublicPath: cfg.Output.PublicPath,
		Stages:     extra,
	})
}

func compileRule(r project.Rule) (rule, error) {
	var out rule
	var err error
	if out.test, err = regexp.Compile(r.Test); err != nil {
		return rule{}, err
	}
	if r.Exclude != "" {
		if out.exclude, err = regexp.Compile(r.Exclude); err != nil {
			return rule{}, err
		}
	}
	if r.Include != "" {
		if out.include, err = regexp.Compile(r.Include); err != nil {
			return rule{}, err
		}
	}
	for _, name := range r.Use {
		out.stages = append(out.stages, canonical(name))
	}
	if r.Type == project.AssetResource {
		out.stages = append(out.stages, "asset")
	}
	return out, nil
}

// Select returns the stage names applied to path, in application order.
// Every matching rule contributes its stages; a stage already contributed by
// an earlier rule is not added again.
func (p *Pipeline) Select(path string) []string {
	slash := filepath.ToSlash(path)
	var chain []string
	seen := make(map[string]struct{})
	for _, r := range p.rules {
		if !r.matches(slash) {
			continue
		}
		for _, name := range r.stages {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			chain = append(chain, name)
		}
	}
	return chain
}

// ChainID is the stable identity of the chain selected for path: stage
// names plus option fingerprints.
func (p *Pipeline) ChainID(path string) string {
	chain := p.Select(path)
	if len(chain) == 0 {
		return "none"
	}
	parts := make([]string, len(chain))
	for i, name := range chain {
		parts[i] = name
		if fp, ok := p.stages[name].(Fingerprinter); ok {
			if s := fp.Fingerprint(); s != "" {
				parts[i] += "@" + s
			}
		}
	}
	return strings.Join(parts, ">")
}

// Apply runs the chain selected for path over raw. Either every stage
// succeeds and the final Source is returned, or a *TransformError is.
func (p *Pipeline) Apply(ctx context.Context, path string, raw []byte) (*Source, error) {
	src := &Source{
		Path: path,
		Code: append([]byte(nil), raw...),
		Lang: LangOf(path),
	}
	for _, name := range p.Select(path) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.stages[name].Transform(ctx, src); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, &TransformError{Path: path, Stage: name, Err: err}
		}
	}
	if src.Lang != LangJS {
		return nil, &TransformError{Path: path, Err: fmt.Errorf("%w (%s)", ErrNotJavaScript, src.Lang)}
	}
	return src, nil
}
