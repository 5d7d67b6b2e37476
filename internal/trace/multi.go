package trace

import "errors"

// MultiTracer fans events out to several tracers, typically a stream for
// the trace file and a ring for the failure dump.
type MultiTracer struct {
	tracers []Tracer
	level   Level
}

// NewMultiTracer returns a tracer emitting to every one of tracers.
func NewMultiTracer(level Level, tracers ...Tracer) *MultiTracer {
	return &MultiTracer{tracers: tracers, level: level}
}

// Emit hands each tracer its own copy: tracers stamp Seq on what they get.
func (t *MultiTracer) Emit(ev *Event) {
	for _, tr := range t.tracers {
		cp := *ev
		tr.Emit(&cp)
	}
}

func (t *MultiTracer) Flush() error {
	errs := make([]error, 0, len(t.tracers))
	for _, tr := range t.tracers {
		errs = append(errs, tr.Flush())
	}
	return errors.Join(errs...)
}

func (t *MultiTracer) Close() error {
	errs := make([]error, 0, len(t.tracers))
	for _, tr := range t.tracers {
		errs = append(errs, tr.Close())
	}
	return errors.Join(errs...)
}

func (t *MultiTracer) Level() Level  { return t.level }
func (t *MultiTracer) Enabled() bool { return t.level > LevelOff }

// Ring returns the first ring buffer among the tracers.
func (t *MultiTracer) Ring() (*RingTracer, bool) {
	for _, tr := range t.tracers {
		if ring, ok := tr.(*RingTracer); ok {
			return ring, true
		}
	}
	return nil, false
}
