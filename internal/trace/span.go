package trace

import (
	"runtime"
	"sync/atomic"
	"time"
)

var (
	seqCounter  atomic.Uint64
	spanCounter atomic.Uint64
)

// NextSeq returns the next global event sequence number.
func NextSeq() uint64 { return seqCounter.Add(1) }

// NextSpanID returns a fresh span id; 0 is never returned.
func NextSpanID() uint64 { return spanCounter.Add(1) }

// goroutineID reads the id from the "goroutine N [" header of the current
// stack. Module spans of the graph stage run on many goroutines at once and
// the id is what separates their lanes in a Chrome trace.
func goroutineID() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	const prefix = "goroutine "
	if n <= len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}
	var id uint64
	for _, c := range buf[len(prefix):n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// Span is an open begin/end pair. The zero-cost span returned when tracing
// is off accepts every call and records nothing.
type Span struct {
	tracer  Tracer
	id      uint64
	parent  uint64
	gid     uint64
	scope   Scope
	name    string
	started time.Time
	extra   map[string]string
}

var inert = &Span{}

// Begin emits the begin event of a span under parent (0 for a root span).
func Begin(t Tracer, scope Scope, name string, parent uint64) *Span {
	if t == nil || !t.Enabled() || !t.Level().collects(scope) {
		return inert
	}
	s := &Span{
		tracer:  t,
		id:      NextSpanID(),
		parent:  parent,
		gid:     goroutineID(),
		scope:   scope,
		name:    name,
		started: time.Now(),
	}
	t.Emit(s.event(KindSpanBegin, s.started, ""))
	return s
}

func (s *Span) event(kind Kind, at time.Time, detail string) *Event {
	return &Event{
		Time:     at,
		Seq:      NextSeq(),
		Kind:     kind,
		Scope:    s.scope,
		SpanID:   s.id,
		ParentID: s.parent,
		GID:      s.gid,
		Name:     s.name,
		Detail:   detail,
	}
}

func (s *Span) live() bool { return s != nil && s.tracer != nil }

// End emits the end event, carrying the extras collected so far, and
// returns the span's duration.
func (s *Span) End(detail string) time.Duration {
	if !s.live() {
		return 0
	}
	now := time.Now()
	ev := s.event(KindSpanEnd, now, detail)
	ev.Extra = s.extra
	s.tracer.Emit(ev)
	return now.Sub(s.started)
}

// Fail ends the span with detail "failed" and the error text as an extra.
func (s *Span) Fail(err error) time.Duration {
	if err != nil {
		s.WithExtra("error", err.Error())
	}
	return s.End("failed")
}

// Point emits an instant event inside the span, e.g. a cache hit or a
// written file.
func (s *Span) Point(name, detail string) {
	if !s.live() {
		return
	}
	ev := s.event(KindPoint, time.Now(), detail)
	ev.Name = name
	ev.ParentID = s.id
	ev.SpanID = 0
	s.tracer.Emit(ev)
}

// WithExtra records a key/value for the end event.
func (s *Span) WithExtra(key, value string) *Span {
	if !s.live() {
		return s
	}
	if s.extra == nil {
		s.extra = make(map[string]string, 2)
	}
	s.extra[key] = value
	return s
}

// ID returns the span id, 0 for an inert span.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}
