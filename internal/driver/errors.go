package driver

import (
	"fmt"
	"strings"

	"quire/internal/project"
)

// ErrorPolicy decides what the graph builder does when a module fails.
type ErrorPolicy uint8

const (
	// FailFast aborts the traversal at the first failure.
	FailFast ErrorPolicy = iota
	// ContinueOnError records every failure, drops the failing modules and
	// edges and keeps traversing.
	ContinueOnError
)

func (p ErrorPolicy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case ContinueOnError:
		return "continue-on-error"
	default:
		return "unknown"
	}
}

// PolicyFor returns the policy of a configuration: fail-fast when it bails,
// which production builds do by default.
func PolicyFor(cfg project.Config) ErrorPolicy {
	if cfg.Bail {
		return FailFast
	}
	return ContinueOnError
}

// GraphError aggregates the resolution and transform failures of one
// traversal. Under FailFast it holds exactly one error.
type GraphError struct {
	Errors []error
}

func (e *GraphError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "module graph failed"
	}
	if len(e.Errors) == 1 {
		return "module graph: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "module graph: %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func (e *GraphError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return e.Errors
}
