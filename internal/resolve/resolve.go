// Package resolve maps import specifiers to canonical module ids.
//
// A module id is the cleaned absolute path of the file that implements the
// module. Resolution is a pure function of the specifier, the importing
// directory, the options and the answers of the FS oracle.
package resolve

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is the cause of a ResolutionError when no candidate exists.
var ErrNotFound = errors.New("module not found")

// ResolutionError reports a specifier that could not be mapped to a file.
type ResolutionError struct {
	Specifier string
	FromDir   string
	Tried     []string
	Err       error
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return ""
	}
	cause := ErrNotFound
	if e.Err != nil {
		cause = e.Err
	}
	return fmt.Sprintf("cannot resolve %q from %s: %v", e.Specifier, e.FromDir, cause)
}

func (e *ResolutionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// Options configures a Resolver.
type Options struct {
	Extensions []string          // tried in order after the exact path
	Alias      map[string]string // key -> absolute path or replacement specifier
	Modules    []string          // package directories, "node_modules" by default
	MainFields []string          // package.json fields naming the entry file
	FS         FS
}

// Resolver resolves specifiers. It holds no mutable state of its own and is
// safe for concurrent use when its FS is.
type Resolver struct {
	opts      Options
	aliasKeys []string
}

// New creates a resolver; missing options get webpack-like defaults.
func New(opts Options) *Resolver {
	if opts.FS == nil {
		opts.FS = OSFS{}
	}
	if len(opts.Modules) == 0 {
		opts.Modules = []string{"node_modules"}
	}
	if len(opts.MainFields) == 0 {
		opts.MainFields = []string{"main"}
	}
	keys := make([]string, 0, len(opts.Alias))
	for k := range opts.Alias {
		keys = append(keys, k)
	}
	// longest key first so "@/components" wins over "@"
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return &Resolver{opts: opts, aliasKeys: keys}
}

// Resolve maps specifier, imported from fromDir, to a module id.
func (r *Resolver) Resolve(specifier, fromDir string) (string, error) {
	spec := norm.NFC.String(strings.TrimSpace(specifier))
	if abs, err := filepath.Abs(fromDir); err == nil {
		fromDir = abs
	}
	rerr := &ResolutionError{Specifier: specifier, FromDir: fromDir}
	if spec == "" {
		rerr.Err = errors.New("empty specifier")
		return "", rerr
	}

	if target, ok := r.substituteAlias(spec); ok {
		spec = target
	}

	var (
		id  string
		err error
	)
	if isPathSpecifier(spec) {
		base := filepath.FromSlash(spec)
		if !filepath.IsAbs(base) {
			base = filepath.Join(fromDir, base)
		}
		id, err = r.tryPath(base, &rerr.Tried)
	} else {
		id, err = r.tryPackages(spec, fromDir, &rerr.Tried)
	}
	if err != nil {
		rerr.Err = err
		return "", rerr
	}
	if id == "" {
		return "", rerr
	}
	return id, nil
}

// substituteAlias rewrites spec with the longest matching alias key.
func (r *Resolver) substituteAlias(spec string) (string, bool) {
	for _, key := range r.aliasKeys {
		target := r.opts.Alias[key]
		if exact, ok := strings.CutSuffix(key, "$"); ok {
			if spec == exact {
				return target, true
			}
			continue
		}
		if spec == key {
			return target, true
		}
		if rest, ok := strings.CutPrefix(spec, key+"/"); ok {
			if filepath.IsAbs(target) {
				return filepath.Join(target, filepath.FromSlash(rest)), true
			}
			return strings.TrimSuffix(target, "/") + "/" + rest, true
		}
	}
	return "", false
}

func isPathSpecifier(spec string) bool {
	return spec == "." || spec == ".." ||
		strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		strings.HasPrefix(spec, "/") || filepath.IsAbs(spec)
}

// tryPackages looks spec up in package directories from fromDir upwards.
func (r *Resolver) tryPackages(spec, fromDir string, tried *[]string) (string, error) {
	rel := filepath.FromSlash(spec)
	for _, modules := range r.opts.Modules {
		if filepath.IsAbs(modules) {
			id, err := r.tryPath(filepath.Join(modules, rel), tried)
			if err != nil || id != "" {
				return id, err
			}
		}
	}
	dir := fromDir
	for {
		for _, modules := range r.opts.Modules {
			if filepath.IsAbs(modules) {
				continue
			}
			id, err := r.tryPath(filepath.Join(dir, modules, rel), tried)
			if err != nil || id != "" {
				return id, err
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// tryPath tries base as a file, with each extension, then as a directory.
func (r *Resolver) tryPath(base string, tried *[]string) (string, error) {
	base = filepath.Clean(base)
	if id, err := r.tryFile(base, tried); err != nil || id != "" {
		return id, err
	}
	kind, err := r.opts.FS.Stat(base)
	if err != nil {
		return "", err
	}
	if kind != Dir {
		return "", nil
	}
	return r.tryDir(base, tried)
}

func (r *Resolver) tryFile(base string, tried *[]string) (string, error) {
	candidates := make([]string, 0, len(r.opts.Extensions)+1)
	candidates = append(candidates, base)
	for _, ext := range r.opts.Extensions {
		candidates = append(candidates, base+ext)
	}
	for _, candidate := range candidates {
		*tried = append(*tried, candidate)
		kind, err := r.opts.FS.Stat(candidate)
		if err != nil {
			return "", err
		}
		if kind == File {
			return candidate, nil
		}
	}
	return "", nil
}

func (r *Resolver) tryDir(dir string, tried *[]string) (string, error) {
	pkgPath := filepath.Join(dir, "package.json")
	kind, err := r.opts.FS.Stat(pkgPath)
	if err != nil {
		return "", err
	}
	if kind == File {
		main, err := r.readMain(pkgPath)
		if err != nil {
			return "", err
		}
		if main != "" {
			target := filepath.Join(dir, filepath.FromSlash(main))
			if target != dir {
				if id, err := r.tryFile(target, tried); err != nil || id != "" {
					return id, err
				}
				if id, err := r.tryIndex(target, tried); err != nil || id != "" {
					return id, err
				}
			}
		}
	}
	return r.tryIndex(dir, tried)
}

func (r *Resolver) tryIndex(dir string, tried *[]string) (string, error) {
	index := filepath.Join(dir, "index")
	for _, ext := range r.opts.Extensions {
		candidate := index + ext
		*tried = append(*tried, candidate)
		kind, err := r.opts.FS.Stat(candidate)
		if err != nil {
			return "", err
		}
		if kind == File {
			return candidate, nil
		}
	}
	return "", nil
}

// readMain returns the first configured main field of a package.json.
// package.json files in the wild carry comments and trailing commas often
// enough that they are read as JSONC.
func (r *Resolver) readMain(pkgPath string) (string, error) {
	data, err := r.opts.FS.ReadFile(pkgPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pkgPath, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &fields); err != nil {
		return "", fmt.Errorf("parse %s: %w", pkgPath, err)
	}
	for _, field := range r.opts.MainFields {
		if s, ok := fields[field].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}
	return "", nil
}
