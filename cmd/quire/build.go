package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"quire/internal/buildpipeline"
	"quire/internal/observ"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags] [path]",
	Short: "Bundle a quire project",
	Long:  "Bundle the project described by quire.toml (or quire.yaml) found at or above path.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  buildExecution,
}

var buildUI = uiModeAuto

func init() {
	addProjectFlags(buildCmd)
	buildCmd.Flags().Var(&buildUI, "ui", "progress UI (auto|on|off)")
}

func buildExecution(cmd *cobra.Command, args []string) error {
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()
	cleanup, tracer, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded", "path", cfg.Path, "mode", string(cfg.Mode), "entries", cfg.EntryNames())

	var timer *observ.Timer
	if showTimings {
		timer = observ.NewTimer()
	}
	session, err := buildpipeline.NewSession(cfg, buildpipeline.Options{Logger: logger, Timer: timer})
	if err != nil {
		return err
	}

	var res buildpipeline.Result
	if buildUI.enabled(quiet) {
		res, err = runBuildWithUI(cmd.Context(), "quire build", session)
	} else {
		res, err = session.Build(cmd.Context())
	}
	out := cmd.OutOrStdout()
	if showTimings {
		printStageTimings(out, res.Timings)
		_, _ = fmt.Fprint(out, timer.Summary())
		logger.Debug("build timings", "timings", timer.Report())
	}
	if err != nil {
		dumpTraceRing(cmd, tracer)
		return err
	}
	if !quiet {
		printBuildSummary(out, res)
	}
	return nil
}

func printBuildSummary(out io.Writer, res buildpipeline.Result) {
	if res.Manifest == nil || res.Partition == nil {
		return
	}
	st := res.Stats
	_, _ = fmt.Fprintf(out, "built %d modules (%d transformed, %d cached) into %d chunks in %.1f ms\n",
		st.Modules, st.Transformed, st.MemoryHits+st.DiskHits, len(res.Partition.Chunks),
		toMillis(res.Timings.Total()))
	for _, c := range res.Partition.Chunks {
		_, _ = fmt.Fprintf(out, "  %-8s %-24s %8d B  %s\n", c.Kind, c.Name, c.Size, res.Manifest.Chunks[c.Name])
	}
}
