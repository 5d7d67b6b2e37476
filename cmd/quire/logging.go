package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

// newLogger builds the slog logger for a command from --log-level,
// --log-format and --quiet. Logs go to stderr.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	flags := cmd.Root().PersistentFlags()
	levelStr, err := flags.GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	format, err := flags.GetString("log-format")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-format flag: %w", err)
	}
	quiet, err := flags.GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		return nil, errInvalidFlag("log-level", levelStr, "debug|info|warn|error")
	}
	if quiet && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	case "json":
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	default:
		return nil, errInvalidFlag("log-format", format, "text|json")
	}
	return slog.New(handler), nil
}
