package trace

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Tracer receives trace events.
type Tracer interface {
	// Emit records a trace event. Must be goroutine-safe.
	Emit(ev *Event)

	// Flush ensures all buffered events are written.
	Flush() error

	// Close flushes and releases resources.
	Close() error

	// Level returns the current tracing level.
	Level() Level

	// Enabled returns true if tracing is active (Level > LevelOff).
	Enabled() bool
}

// StorageMode determines how events are stored.
type StorageMode uint8

const (
	ModeStream StorageMode = iota + 1 // immediate write
	ModeRing                          // circular buffer
	ModeBoth                          // stream + ring
)

// String returns the string representation of StorageMode.
func (m StorageMode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModeRing:
		return "ring"
	case ModeBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseMode converts a string to StorageMode.
func ParseMode(s string) (StorageMode, error) {
	switch strings.ToLower(s) {
	case "stream":
		return ModeStream, nil
	case "ring":
		return ModeRing, nil
	case "both":
		return ModeBoth, nil
	default:
		return ModeRing, fmt.Errorf("invalid storage mode: %q (expected: stream|ring|both)", s)
	}
}

// Config selects what New builds.
type Config struct {
	Level      Level
	Mode       StorageMode
	Format     Format    // FormatAuto picks by OutputPath extension
	Output     io.Writer // stream destination; OutputPath is used when nil
	OutputPath string    // file path, "-" or empty for stderr
	RingSize   int       // 4096 when <= 0
	Heartbeat  time.Duration
}

// New builds the tracer cfg describes. Off yields Nop.
func New(cfg Config) (Tracer, error) {
	if cfg.Level == LevelOff {
		return Nop, nil
	}
	var tracers []Tracer
	if cfg.Mode == ModeStream || cfg.Mode == ModeBoth {
		w, err := openOutput(cfg)
		if err != nil {
			return nil, err
		}
		tracers = append(tracers, NewStreamTracer(w, cfg.Level, formatFor(cfg)))
	}
	if cfg.Mode == ModeRing || cfg.Mode == ModeBoth {
		tracers = append(tracers, NewRingTracer(cfg.RingSize, cfg.Level))
	}
	switch len(tracers) {
	case 0:
		return nil, fmt.Errorf("unknown storage mode: %v", cfg.Mode)
	case 1:
		return tracers[0], nil
	}
	return NewMultiTracer(cfg.Level, tracers...), nil
}

// formatFor resolves FormatAuto: trace.json (or .chrome.json) opens in
// chrome://tracing and Perfetto, .ndjson is for jq, anything else is text.
func formatFor(cfg Config) Format {
	if cfg.Format != FormatAuto {
		return cfg.Format
	}
	switch {
	case strings.HasSuffix(cfg.OutputPath, ".ndjson"):
		return FormatNDJSON
	case strings.HasSuffix(cfg.OutputPath, ".json"):
		return FormatChrome
	}
	return FormatText
}

func openOutput(cfg Config) (io.Writer, error) {
	switch {
	case cfg.Output != nil:
		return cfg.Output, nil
	case cfg.OutputPath == "" || cfg.OutputPath == "-":
		return os.Stderr, nil
	}
	f, err := os.Create(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace output: %w", err)
	}
	return f, nil
}

func isStdStream(w io.Writer) bool {
	return w == os.Stderr || w == os.Stdout
}

// RingOf returns the ring buffer behind t, if it has one.
func RingOf(t Tracer) (*RingTracer, bool) {
	switch tr := t.(type) {
	case *RingTracer:
		return tr, true
	case *MultiTracer:
		return tr.Ring()
	}
	return nil, false
}

// DumpRing writes the events held by t's ring buffer, if it has one.
func DumpRing(t Tracer, w io.Writer, format Format) error {
	if ring, ok := RingOf(t); ok {
		return ring.Dump(w, format)
	}
	return nil
}
