package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quire/internal/project"
)

// addProjectFlags registers the flags that override the configuration file.
func addProjectFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "", "build mode (development|production), overrides the file")
	cmd.Flags().String("out", "", "output directory, overrides output.path")
	cmd.Flags().Bool("no-cache", false, "disable the module cache")
	cmd.Flags().Int("jobs", 0, "concurrent module transforms (0 = GOMAXPROCS)")
	cmd.Flags().Bool("bail", false, "stop at the first module error")
}

// loadConfig loads the project configuration for cmd. The configuration
// file comes from --config, or is searched upwards from args[0] (or the
// working directory).
func loadConfig(cmd *cobra.Command, args []string) (project.Config, error) {
	var ov project.Overrides
	flags := cmd.Flags()
	if flags.Lookup("mode") != nil {
		modeStr, err := flags.GetString("mode")
		if err != nil {
			return project.Config{}, err
		}
		if modeStr != "" {
			mode, err := project.ParseMode(modeStr)
			if err != nil {
				return project.Config{}, err
			}
			ov.Mode = mode
		}
		if ov.OutputPath, err = flags.GetString("out"); err != nil {
			return project.Config{}, err
		}
		if ov.NoCache, err = flags.GetBool("no-cache"); err != nil {
			return project.Config{}, err
		}
		if ov.Jobs, err = flags.GetInt("jobs"); err != nil {
			return project.Config{}, err
		}
		if flags.Changed("bail") {
			bail, err := flags.GetBool("bail")
			if err != nil {
				return project.Config{}, err
			}
			ov.Bail = &bail
		}
	}

	configPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return project.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	if configPath != "" {
		return project.Load(configPath, ov)
	}
	start := "."
	if len(args) > 0 && args[0] != "" {
		start = args[0]
	}
	if info, err := os.Stat(start); err != nil {
		return project.Config{}, fmt.Errorf("failed to stat %q: %w", start, err)
	} else if !info.IsDir() {
		return project.Load(start, ov)
	}
	return project.LoadFromDir(start, ov)
}
