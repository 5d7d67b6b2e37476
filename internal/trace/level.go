package trace

import (
	"fmt"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	// LevelOff disables tracing.
	LevelOff    Level = iota
	LevelError        // only ring dumps on failure
	LevelStage        // build + stage boundaries
	LevelDetail       // per-module and per-chunk events
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelStage:
		return "stage"
	case LevelDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "off":
		return LevelOff, nil
	case "error":
		return LevelError, nil
	case "stage", "phase":
		return LevelStage, nil
	case "detail", "debug":
		return LevelDetail, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|stage|detail)", s)
	}
}

// ShouldEmit returns true if the given scope should emit at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelStage:
		return scope <= ScopeStage
	case LevelDetail:
		return scope <= ScopeModule
	}
	// LevelError collects nothing up front; see RingTracer.Dump
	return false
}

// collects reports whether spans of scope are created at all. LevelError
// creates every span so a ring tracer has something to dump.
func (l Level) collects(scope Scope) bool {
	return l == LevelError || l.ShouldEmit(scope)
}
