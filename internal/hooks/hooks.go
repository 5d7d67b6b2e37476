// Package hooks defines the fixed extension points of a build.
//
// There are three points: before a specifier is resolved, after a module's
// loader chain ran and before it is scanned, and before a chunk artifact is
// written. A handler implements the interface of every point it wants to
// observe; Registry.Register files it under each of them, in order.
package hooks

import (
	"context"
	"fmt"
	"strings"
)

// ResolveRequest is the input of a pre-resolve handler. Handlers may rewrite
// Specifier; FromDir is informational.
type ResolveRequest struct {
	Specifier string
	FromDir   string
}

// TransformedModule is a module after its loader chain. Handlers may rewrite Code.
type TransformedModule struct {
	ID   string
	Code []byte
}

// Artifact is one rendered chunk before it is written. Handlers may rewrite Code.
type Artifact struct {
	Chunk string
	File  string // output-relative name
	Code  []byte
}

type PreResolver interface {
	PreResolve(ctx context.Context, req *ResolveRequest) error
}

type PostTransformer interface {
	PostTransform(ctx context.Context, mod *TransformedModule) error
}

type PreEmitter interface {
	PreEmit(ctx context.Context, art *Artifact) error
}

// PreResolveFunc adapts a function to PreResolver.
type PreResolveFunc func(ctx context.Context, req *ResolveRequest) error

func (f PreResolveFunc) PreResolve(ctx context.Context, req *ResolveRequest) error {
	return f(ctx, req)
}

// PostTransformFunc adapts a function to PostTransformer.
type PostTransformFunc func(ctx context.Context, mod *TransformedModule) error

func (f PostTransformFunc) PostTransform(ctx context.Context, mod *TransformedModule) error {
	return f(ctx, mod)
}

// PreEmitFunc adapts a function to PreEmitter.
type PreEmitFunc func(ctx context.Context, art *Artifact) error

func (f PreEmitFunc) PreEmit(ctx context.Context, art *Artifact) error {
	return f(ctx, art)
}

// Registry holds handlers per extension point. Register every handler before
// the build starts; running handlers is safe for concurrent use.
type Registry struct {
	preResolve    []PreResolver
	postTransform []PostTransformer
	preEmit       []PreEmitter
}

// NewRegistry returns a registry holding handlers.
func NewRegistry(handlers ...any) *Registry {
	r := &Registry{}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register appends h to every extension point it implements and reports
// whether it implemented any.
func (r *Registry) Register(h any) bool {
	matched := false
	if p, ok := h.(PreResolver); ok {
		r.preResolve = append(r.preResolve, p)
		matched = true
	}
	if p, ok := h.(PostTransformer); ok {
		r.postTransform = append(r.postTransform, p)
		matched = true
	}
	if p, ok := h.(PreEmitter); ok {
		r.preEmit = append(r.preEmit, p)
		matched = true
	}
	return matched
}

// PreResolve runs pre-resolve handlers in order. A nil registry is empty.
func (r *Registry) PreResolve(ctx context.Context, req *ResolveRequest) error {
	if r == nil {
		return nil
	}
	for i, h := range r.preResolve {
		if err := h.PreResolve(ctx, req); err != nil {
			return fmt.Errorf("pre-resolve handler %d: %w", i, err)
		}
	}
	return nil
}

// PostTransform runs post-transform handlers in order.
func (r *Registry) PostTransform(ctx context.Context, mod *TransformedModule) error {
	if r == nil {
		return nil
	}
	for i, h := range r.postTransform {
		if err := h.PostTransform(ctx, mod); err != nil {
			return fmt.Errorf("post-transform handler %d: %w", i, err)
		}
	}
	return nil
}

// PreEmit runs pre-emit handlers in order.
func (r *Registry) PreEmit(ctx context.Context, art *Artifact) error {
	if r == nil {
		return nil
	}
	for i, h := range r.preEmit {
		if err := h.PreEmit(ctx, art); err != nil {
			return fmt.Errorf("pre-emit handler %d: %w", i, err)
		}
	}
	return nil
}

// TransformIdentity names the post-transform handlers, so that cached
// modules produced under a different handler set are not reused.
func (r *Registry) TransformIdentity() string {
	if r == nil || len(r.postTransform) == 0 {
		return ""
	}
	names := make([]string, len(r.postTransform))
	for i, h := range r.postTransform {
		if id, ok := h.(interface{ Identity() string }); ok {
			names[i] = id.Identity()
			continue
		}
		names[i] = fmt.Sprintf("%T", h)
	}
	return strings.Join(names, ",")
}

// Counts returns the number of handlers per point: pre-resolve,
// post-transform, pre-emit.
func (r *Registry) Counts() (int, int, int) {
	if r == nil {
		return 0, 0, 0
	}
	return len(r.preResolve), len(r.postTransform), len(r.preEmit)
}
