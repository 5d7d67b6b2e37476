package trace

import (
	"fmt"
	"io"
	"sync"
)

// RingTracer keeps the most recent events in memory so a failed build can
// print what led up to the failure. It records every scope at any level
// above LevelOff.
type RingTracer struct {
	mu     sync.Mutex
	events []Event
	total  uint64 // events ever written
	level  Level
}

// NewRingTracer returns a ring holding capacity events (4096 when <= 0).
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &RingTracer{events: make([]Event, capacity), level: level}
}

func (t *RingTracer) Emit(ev *Event) {
	if t.level == LevelOff {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := &t.events[t.total%uint64(len(t.events))]
	*slot = *ev
	slot.Seq = NextSeq()
	t.total++
}

// Snapshot returns the held events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	size := uint64(len(t.events))
	n := min(t.total, size)
	out := make([]Event, 0, n)
	for i := t.total - n; i < t.total; i++ {
		out = append(out, t.events[i%size])
	}
	return out
}

// Dropped returns how many events were overwritten.
func (t *RingTracer) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total - min(t.total, uint64(len(t.events)))
}

// Dump writes the held events in format. In text format a note about
// overwritten events comes first.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	if dropped := t.Dropped(); dropped > 0 && format == FormatText {
		if _, err := fmt.Fprintf(w, "(%d earlier events dropped)\n", dropped); err != nil {
			return err
		}
	}
	for _, ev := range t.Snapshot() {
		if _, err := w.Write(FormatEvent(&ev, format)); err != nil {
			return err
		}
	}
	return nil
}

func (t *RingTracer) Flush() error  { return nil }
func (t *RingTracer) Close() error  { return nil }
func (t *RingTracer) Level() Level  { return t.level }
func (t *RingTracer) Enabled() bool { return t.level > LevelOff }
