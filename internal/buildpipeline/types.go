package buildpipeline

import "time"

// Stage is one step of a build.
type Stage string

const (
	// StageGraph discovers, transforms and links the modules.
	StageGraph Stage = "graph"
	// StageSplit partitions the graph into chunks.
	StageSplit Stage = "split"
	// StageEmit renders and writes the chunks.
	StageEmit Stage = "emit"
)

// Status is the progress of a module or a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusCached  Status = "cached" // module served from the memory or disk cache
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event reports progress for a module (or for the whole stage when Module is
// empty). Module is relative to the project root.
type Event struct {
	Module  string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. The graph stage reports from
// worker goroutines, so implementations must be safe for concurrent use.
type ProgressSink interface {
	OnEvent(Event)
}

// Stages lists the stages in the order a build runs them.
var Stages = []Stage{StageGraph, StageSplit, StageEmit}

func (s Stage) slot() int {
	switch s {
	case StageGraph:
		return 0
	case StageSplit:
		return 1
	case StageEmit:
		return 2
	}
	return -1
}

// Timings records how long each stage of one build took. A stage that never
// ran has no timing.
type Timings struct {
	took [3]time.Duration
	ran  [3]bool
}

// Set records the duration of stage. Unknown stages are ignored.
func (t *Timings) Set(stage Stage, d time.Duration) {
	if i := stage.slot(); i >= 0 {
		t.took[i], t.ran[i] = d, true
	}
}

// Has reports whether stage ran.
func (t Timings) Has(stage Stage) bool {
	i := stage.slot()
	return i >= 0 && t.ran[i]
}

// Duration returns how long stage took, zero when it did not run.
func (t Timings) Duration(stage Stage) time.Duration {
	if i := stage.slot(); i >= 0 {
		return t.took[i]
	}
	return 0
}

// Total sums the stages that ran.
func (t Timings) Total() time.Duration {
	var total time.Duration
	for _, d := range t.took {
		total += d
	}
	return total
}
