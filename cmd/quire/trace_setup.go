package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quire/internal/trace"
)

// setupTracing inspects trace-related flags and attaches a tracer to the
// command context. It returns a cleanup function and the tracer.
func setupTracing(cmd *cobra.Command) (func(), trace.Tracer, error) {
	flags := cmd.Root().PersistentFlags()

	traceOutput, err := flags.GetString("trace")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := flags.GetString("trace-level")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := flags.GetString("trace-mode")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	formatStr, err := flags.GetString("trace-format")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-format flag: %w", err)
	}
	ringSize, err := flags.GetInt("trace-ring-size")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	heartbeatInterval, err := flags.GetDuration("trace-heartbeat")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return nil, nil, err
	}
	// --trace without a level means stage-level tracing
	if level == trace.LevelOff && traceOutput != "" && !flags.Changed("trace-level") {
		level = trace.LevelStage
	}
	if level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, trace.Nop, nil
	}

	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return nil, nil, err
	}
	format, err := trace.ParseFormat(formatStr)
	if err != nil {
		return nil, nil, err
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: traceOutput,
		RingSize:   ringSize,
		Heartbeat:  heartbeatInterval,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))

	heartbeat := trace.StartHeartbeat(tracer, heartbeatInterval)

	cleanup := func() {
		heartbeat.Stop()
		if err := tracer.Flush(); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return cleanup, tracer, nil
}

// dumpTraceRing prints the ring buffer after a failed build.
func dumpTraceRing(cmd *cobra.Command, tracer trace.Tracer) {
	if tracer == nil {
		return
	}
	if _, ok := trace.RingOf(tracer); !ok {
		return
	}
	out := cmd.ErrOrStderr()
	_, _ = fmt.Fprintln(out, "trace: last events before the failure:")
	if err := trace.DumpRing(tracer, out, trace.FormatText); err != nil {
		_, _ = fmt.Fprintf(out, "trace: dump error: %v\n", err)
	}
}
