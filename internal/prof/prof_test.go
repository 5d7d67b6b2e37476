package prof

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProfilerWritesFiles(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.pprof"),
		Heap:  filepath.Join(dir, "heap.pprof"),
		Trace: filepath.Join(dir, "run.trace"),
	}
	p, err := Start(opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	for _, path := range []string{opts.CPU, opts.Heap, opts.Trace} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", path)
		}
	}
}

func TestNilProfilerStop(t *testing.T) {
	var p *Profiler
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
