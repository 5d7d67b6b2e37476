package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"quire/internal/driver"
	"quire/internal/emit"
	"quire/internal/project"
	"quire/internal/split"
)

var errorHeadline = color.New(color.FgRed, color.Bold)

func errInvalidFlag(name, value, expected string) error {
	return fmt.Errorf("invalid --%s value %q (expected %s)", name, value, expected)
}

// printError writes err with a coloured headline. A GraphError is printed
// one failure per line.
func printError(out io.Writer, err error) {
	var gerr *driver.GraphError
	if errors.As(err, &gerr) && len(gerr.Errors) > 1 {
		_, _ = fmt.Fprintf(out, "%s %d modules failed\n", errorHeadline.Sprint("error:"), len(gerr.Errors))
		for _, e := range gerr.Errors {
			_, _ = fmt.Fprintf(out, "  - %v\n", e)
		}
		return
	}
	_, _ = fmt.Fprintf(out, "%s %v\n", errorHeadline.Sprint("error:"), err)
	var eerr *emit.EmitError
	if errors.As(err, &eerr) {
		switch eerr.Op {
		case "render", "minify", "pre-emit":
			_, _ = fmt.Fprintln(out, "note: nothing was written, the previous output is unchanged")
		}
	}
	if errors.Is(err, project.ErrConfigNotFound) {
		_, _ = fmt.Fprintln(out, "hint: create quire.toml in the project root or pass --config")
	}
}

// exitCode maps an error to the process exit status: 2 for configuration
// and policy errors, 130 for an interrupted build, 1 otherwise.
func exitCode(err error) int {
	var perr *split.SplitPolicyError
	switch {
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, project.ErrConfigNotFound), errors.As(err, &perr):
		return 2
	}
	return 1
}
