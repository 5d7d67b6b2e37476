// Package main implements the quire CLI.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"quire/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "quire",
	Short:         "JavaScript module bundler",
	Long:          `quire resolves, transforms and bundles JavaScript modules into chunks`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return applyColorMode(cmd)
	},
}

func init() {
	// Устанавливаем версию для автоматического флага --version
	rootCmd.Version = version.Version

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(versionCmd)

	// Глобальные флаги
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "configuration file (default: quire.toml/quire.yaml found upwards)")
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.Bool("quiet", false, "suppress non-essential output")
	pf.Bool("timings", false, "show timing information")
	pf.String("log-level", "warn", "log level (debug|info|warn|error)")
	pf.String("log-format", "text", "log format (text|json)")
	pf.String("trace", "", "write a trace to this file ('-' for stderr)")
	pf.String("trace-level", "off", "trace level (off|error|stage|detail)")
	pf.String("trace-mode", "stream", "trace storage (stream|ring|both)")
	pf.String("trace-format", "auto", "trace format (auto|text|ndjson|chrome)")
	pf.Int("trace-ring-size", 4096, "events kept by the ring tracer")
	pf.Duration("trace-heartbeat", 0, "emit heartbeat trace events at this interval")
	pf.String("cpu-profile", "", "write a CPU profile to this file")
	pf.String("mem-profile", "", "write a heap profile to this file on exit")
	pf.String("runtime-trace", "", "write a Go runtime trace to this file")
}

// main executes the root command. Interrupts cancel the running build.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func applyColorMode(cmd *cobra.Command) error {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return err
	}
	switch mode {
	case "auto":
		// fatih/color already checks the terminal and NO_COLOR
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return errInvalidFlag("color", mode, "auto|on|off")
	}
	return nil
}

// isTerminal проверяет, является ли файл терминалом
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
