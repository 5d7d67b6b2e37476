package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quire/internal/buildpipeline"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [path]",
	Short: "Remove the build output",
	Long:  "Remove the output directory of a quire project. With --cache the filesystem module cache goes too.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().Bool("cache", false, "also drop the filesystem module cache")
}

func runClean(cmd *cobra.Command, args []string) error {
	withCache, err := cmd.Flags().GetBool("cache")
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := buildpipeline.Clean(cmd.Context(), cfg, withCache, logger); err != nil {
		return err
	}
	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	if !quiet {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", cfg.Output.Path)
	}
	return nil
}
