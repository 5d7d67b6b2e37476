package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quire/internal/prof"
)

// setupProfiling starts the profilers named by the persistent profiling
// flags. The returned cleanup is safe to call more than once.
func setupProfiling(cmd *cobra.Command) (func(), error) {
	flags := cmd.Root().PersistentFlags()
	var opts prof.Options
	var err error
	if opts.CPU, err = flags.GetString("cpu-profile"); err != nil {
		return nil, fmt.Errorf("failed to get cpu-profile flag: %w", err)
	}
	if opts.Heap, err = flags.GetString("mem-profile"); err != nil {
		return nil, fmt.Errorf("failed to get mem-profile flag: %w", err)
	}
	if opts.Trace, err = flags.GetString("runtime-trace"); err != nil {
		return nil, fmt.Errorf("failed to get runtime-trace flag: %w", err)
	}
	if opts == (prof.Options{}) {
		return func() {}, nil
	}
	p, err := prof.Start(opts)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := p.Stop(); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "profiling: %v\n", err)
		}
	}, nil
}
