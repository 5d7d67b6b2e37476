package trace

import (
	"bufio"
	"io"
	"sync"
)

// StreamTracer writes events to an io.Writer as they arrive.
type StreamTracer struct {
	mu     sync.Mutex
	dst    io.Writer
	w      *bufio.Writer
	level  Level
	format Format
	first  bool // no Chrome event written yet
}

// NewStreamTracer creates a new StreamTracer.
func NewStreamTracer(w io.Writer, level Level, format Format) *StreamTracer {
	st := &StreamTracer{
		dst:    w,
		w:      bufio.NewWriter(w),
		level:  level,
		format: format,
		first:  true,
	}
	if format == FormatChrome {
		_, _ = st.w.WriteString("{\"traceEvents\":[\n")
	}
	return st
}

// Emit writes an event to the output. Write errors are dropped: a broken
// trace file must not fail the build.
func (t *StreamTracer) Emit(ev *Event) {
	if !t.level.ShouldEmit(ev.Scope) && ev.Kind != KindHeartbeat {
		return
	}
	ev.Seq = NextSeq()
	data := FormatEvent(ev, t.format)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.format == FormatChrome {
		if !t.first {
			_, _ = t.w.WriteString(",\n")
		}
		t.first = false
	}
	_, _ = t.w.Write(data)
	// span ends and heartbeats are where a hang would be diagnosed
	if ev.Kind != KindSpanBegin {
		_ = t.w.Flush()
	}
}

// Flush writes buffered events through.
func (t *StreamTracer) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Flush()
}

// Close writes the Chrome footer, flushes and closes the writer if it is
// an io.Closer other than stderr/stdout.
func (t *StreamTracer) Close() error {
	t.mu.Lock()
	if t.format == FormatChrome {
		_, _ = t.w.WriteString("\n]}\n")
	}
	err := t.w.Flush()
	t.mu.Unlock()
	if closer, ok := t.dst.(io.Closer); ok && !isStdStream(t.dst) {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Level returns the current tracing level.
func (t *StreamTracer) Level() Level {
	return t.level
}

// Enabled returns true if tracing is active.
func (t *StreamTracer) Enabled() bool {
	return t.level > LevelOff
}
