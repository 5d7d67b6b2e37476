package trace

import "context"

type nopTracer struct{}

func (nopTracer) Emit(*Event)   {}
func (nopTracer) Flush() error  { return nil }
func (nopTracer) Close() error  { return nil }
func (nopTracer) Level() Level  { return LevelOff }
func (nopTracer) Enabled() bool { return false }

// Nop discards everything. FromContext returns it when ctx carries no tracer.
var Nop Tracer = nopTracer{}

type tracerKey struct{}

type spanKey struct{}

// SpanContext identifies the span a context was derived under.
type SpanContext struct {
	SpanID uint64
	GID    uint64
}

// FromContext returns the tracer attached to ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	if ctx != nil {
		if t, ok := ctx.Value(tracerKey{}).(Tracer); ok {
			return t
		}
	}
	return Nop
}

// WithTracer attaches t to ctx; a nil t detaches tracing.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	return context.WithValue(ctx, tracerKey{}, t)
}

// CurrentSpan returns the span carried by ctx, zero when there is none.
func CurrentSpan(ctx context.Context) SpanContext {
	if ctx != nil {
		if sc, ok := ctx.Value(spanKey{}).(SpanContext); ok {
			return sc
		}
	}
	return SpanContext{}
}

// WithSpanContext attaches sc to ctx.
func WithSpanContext(ctx context.Context, sc SpanContext) context.Context {
	return context.WithValue(ctx, spanKey{}, sc)
}

// Start begins a span under the span carried by ctx and returns a context
// carrying the new one. Stages start their module spans from that context,
// so a trace nests build, stage and module.
func Start(ctx context.Context, scope Scope, name string) (context.Context, *Span) {
	span := Begin(FromContext(ctx), scope, name, CurrentSpan(ctx).SpanID)
	if span.ID() == 0 {
		return ctx, span
	}
	return WithSpanContext(ctx, SpanContext{SpanID: span.ID(), GID: span.gid}), span
}
