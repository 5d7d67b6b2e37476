package observ

import (
	"strings"
	"testing"
)

func TestTimerAccumulatesRepeatedPhases(t *testing.T) {
	timer := NewTimer()
	end := timer.Track("graph")
	end("12 modules")
	end("ignored")
	timer.Track("emit")("")
	timer.Track("graph")("")

	report := timer.Report()
	if len(report.Phases) != 2 {
		t.Fatalf("phases = %+v, want 2", report.Phases)
	}
	graph := report.Phases[0]
	if graph.Name != "graph" || graph.Runs != 2 || graph.Note != "12 modules" {
		t.Fatalf("graph phase = %+v", graph)
	}
	if report.Phases[1].Name != "emit" || report.Phases[1].Runs != 1 {
		t.Fatalf("emit phase = %+v", report.Phases[1])
	}
	if report.TotalMS < graph.DurationMS {
		t.Fatalf("total %.3f below a phase %.3f", report.TotalMS, graph.DurationMS)
	}
	summary := timer.Summary()
	for _, want := range []string{"graph", "over 2 runs", "(12 modules)", "emit", "total"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary misses %q:\n%s", want, summary)
		}
	}
}

func TestNilTimerIsInert(t *testing.T) {
	var timer *Timer
	timer.Track("x")("y")
	if got := timer.Report(); len(got.Phases) != 0 {
		t.Fatalf("nil timer reported %+v", got)
	}
}

func TestReportLogValue(t *testing.T) {
	r := Report{TotalMS: 3, Phases: []PhaseReport{{Name: "split", DurationMS: 3, Runs: 1}}}
	group := r.LogValue().Group()
	if len(group) != 2 || group[0].Key != "split_ms" || group[1].Key != "total_ms" {
		t.Fatalf("log value = %v", group)
	}
}
