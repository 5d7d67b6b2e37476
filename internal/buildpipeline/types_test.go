package buildpipeline

import (
	"testing"
	"time"
)

func TestTimingsOnlyReportStagesThatRan(t *testing.T) {
	var tm Timings
	tm.Set(StageGraph, 3*time.Millisecond)
	tm.Set(StageEmit, 2*time.Millisecond)
	tm.Set(Stage("lint"), time.Hour)

	if !tm.Has(StageGraph) || tm.Has(StageSplit) || tm.Has(Stage("lint")) {
		t.Fatalf("Has: graph=%v split=%v lint=%v", tm.Has(StageGraph), tm.Has(StageSplit), tm.Has(Stage("lint")))
	}
	if got := tm.Duration(StageSplit); got != 0 {
		t.Fatalf("split duration = %v, want 0", got)
	}
	if got, want := tm.Total(), 5*time.Millisecond; got != want {
		t.Fatalf("Total = %v, want %v", got, want)
	}
}
