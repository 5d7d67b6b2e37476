// Package observ measures how long the phases of a build take.
package observ

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Timer accumulates wall time per named phase. A phase tracked more than
// once, as in repeated builds of one session, adds up and counts its runs.
// The zero Timer is not usable; a nil *Timer ignores everything.
type Timer struct {
	mu     sync.Mutex
	order  []string
	phases map[string]*phase
}

type phase struct {
	took time.Duration
	runs int
	note string
}

func NewTimer() *Timer { return &Timer{phases: make(map[string]*phase)} }

// Track starts timing name. The returned func stops it and records note as
// the phase's latest note; calling it again has no effect.
func (t *Timer) Track(name string) func(note string) {
	if t == nil {
		return func(string) {}
	}
	start := time.Now()
	var once sync.Once
	return func(note string) {
		once.Do(func() { t.add(name, time.Since(start), note) })
	}
}

func (t *Timer) add(name string, d time.Duration, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.phases[name]
	if !ok {
		p = &phase{}
		t.phases[name] = p
		t.order = append(t.order, name)
	}
	p.took += d
	p.runs++
	if note != "" {
		p.note = note
	}
}

// PhaseReport is one phase as serialized by Report.
type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Runs       int     `json:"runs"`
	Note       string  `json:"note,omitempty"`
}

// Report is a snapshot of a Timer, phases in the order they first ran.
type Report struct {
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

func (t *Timer) Report() Report {
	if t == nil {
		return Report{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var r Report
	for _, name := range t.order {
		p := t.phases[name]
		ms := millis(p.took)
		r.Phases = append(r.Phases, PhaseReport{Name: name, DurationMS: ms, Runs: p.runs, Note: p.note})
		r.TotalMS += ms
	}
	return r
}

// Summary renders the report as an aligned table.
func (t *Timer) Summary() string {
	r := t.Report()
	var sb strings.Builder
	sb.WriteString("timings:\n")
	for _, p := range r.Phases {
		fmt.Fprintf(&sb, "  %-12s %9.2f ms", p.Name, p.DurationMS)
		if p.Runs > 1 {
			fmt.Fprintf(&sb, " over %d runs", p.Runs)
		}
		if p.Note != "" {
			sb.WriteString("  (" + p.Note + ")")
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "  %-12s %9.2f ms\n", "total", r.TotalMS)
	return sb.String()
}

// LogValue renders the report as a slog group with one attribute per phase.
func (r Report) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(r.Phases)+1)
	for _, p := range r.Phases {
		attrs = append(attrs, slog.Float64(p.Name+"_ms", p.DurationMS))
	}
	attrs = append(attrs, slog.Float64("total_ms", r.TotalMS))
	return slog.GroupValue(attrs...)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
