package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"quire/internal/buildpipeline"
)

var planCmd = &cobra.Command{
	Use:   "plan [flags] [path]",
	Short: "Show the chunks a build would write, without writing them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  planExecution,
}

func init() {
	addProjectFlags(planCmd)
	planCmd.Flags().Bool("json", false, "print the manifest the build would write")
}

var planHeader = lipgloss.NewStyle().Bold(true)

func planExecution(cmd *cobra.Command, args []string) error {
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
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
	res, err := buildpipeline.Build(cmd.Context(), cfg, buildpipeline.Options{Logger: logger, DryRun: true})
	if err != nil {
		dumpTraceRing(cmd, tracer)
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		data, err := res.Manifest.Marshal()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	return printPlan(out, res)
}

// printPlan writes one row per chunk followed by the load order of every
// entry.
func printPlan(out io.Writer, res buildpipeline.Result) error {
	part, man := res.Partition, res.Manifest
	rendered := make(map[string]int, len(res.Artifacts))
	for _, a := range res.Artifacts {
		rendered[a.Chunk] = len(a.Code)
	}

	if _, err := fmt.Fprintln(out, planHeader.Render("chunks")); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tKIND\tMODULES\tSIZE\tOUTPUT\tFILE")
	for _, c := range part.Chunks {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", c.Name, c.Kind, len(c.Modules), c.Size, rendered[c.Name], man.Chunks[c.Name])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if _, err := fmt.Fprintln(out, "\n"+planHeader.Render("entrypoints")); err != nil {
		return err
	}
	for _, name := range slices.Sorted(maps.Keys(man.Entrypoints)) {
		if _, err := fmt.Fprintf(out, "  %s: %s\n", name, strings.Join(man.Entrypoints[name], ", ")); err != nil {
			return err
		}
	}
	if len(part.Merged) > 0 {
		if _, err := fmt.Fprintf(out, "\nmerged groups: %s\n", strings.Join(part.Merged, ", ")); err != nil {
			return err
		}
	}
	if len(res.Cycles) > 0 {
		if _, err := fmt.Fprintf(out, "circular imports: %s\n", strings.Join(res.Cycles, ", ")); err != nil {
			return err
		}
	}
	return nil
}
