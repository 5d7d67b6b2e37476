// Package prof wraps the runtime profilers a build can be run under.
package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
)

// Options names the output files; empty paths disable a profiler.
type Options struct {
	CPU   string
	Heap  string
	Trace string // runtime/trace output
}

// Profiler owns the profiles started by Start.
type Profiler struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
	once      sync.Once
	err       error
}

// Start enables the CPU profile and the runtime trace. The heap profile is
// captured by Stop.
func Start(opts Options) (*Profiler, error) {
	p := &Profiler{opts: opts}
	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("start cpu profile: %w", err)
		}
		p.cpuFile = f
	}
	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err != nil {
			p.stopCPU()
			return nil, err
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			p.stopCPU()
			return nil, fmt.Errorf("start runtime trace: %w", err)
		}
		p.traceFile = f
	}
	return p, nil
}

// Stop ends the profiles and writes the heap profile. Calls after the first
// return the first result.
func (p *Profiler) Stop() error {
	if p == nil {
		return nil
	}
	p.once.Do(func() {
		var errs []error
		if p.traceFile != nil {
			trace.Stop()
			errs = append(errs, p.traceFile.Close())
		}
		errs = append(errs, p.stopCPU())
		if p.opts.Heap != "" {
			errs = append(errs, writeHeap(p.opts.Heap))
		}
		p.err = errors.Join(errs...)
	})
	return p.err
}

func (p *Profiler) stopCPU() error {
	if p.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := p.cpuFile.Close()
	p.cpuFile = nil
	return err
}

func writeHeap(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}
