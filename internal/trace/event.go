package trace

import "time"

// Kind tells what an event marks.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint     // instant event, possibly inside a span
	KindHeartbeat // periodic liveness signal
)

var kindNames = [...]string{KindSpanBegin: "begin", KindSpanEnd: "end", KindPoint: "point", KindHeartbeat: "heartbeat"}

// text markers: → ← • ♡
var kindMarks = [...]string{KindSpanBegin: "→", KindSpanEnd: "←", KindPoint: "•", KindHeartbeat: "♡"}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Scope is how coarse an event is; smaller scopes are coarser.
type Scope uint8

const (
	ScopeBuild  Scope = iota + 1 // a whole build or CLI command
	ScopeStage                   // graph, split or emit
	ScopeModule                  // one module or one chunk
)

var scopeNames = [...]string{ScopeBuild: "build", ScopeStage: "stage", ScopeModule: "module"}

func (s Scope) String() string {
	if int(s) < len(scopeNames) && scopeNames[s] != "" {
		return scopeNames[s]
	}
	return "unknown"
}

// depth is the indentation of s in text output.
func (s Scope) depth() int {
	if s <= ScopeBuild {
		return 0
	}
	return int(s - ScopeBuild)
}

// Event is one trace record. Seq is assigned by the tracer that emits it.
type Event struct {
	Time     time.Time
	Seq      uint64
	Kind     Kind
	Scope    Scope
	SpanID   uint64 // 0 for points and heartbeats
	ParentID uint64 // enclosing span, 0 at the root
	GID      uint64 // goroutine that emitted the event
	Name     string
	Detail   string
	Extra    map[string]string
}
