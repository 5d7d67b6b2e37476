package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"quire/internal/version"
)

type versionOptions struct {
	format   string
	showHash bool
	showDate bool
}

type versionPayload struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	Tagline   string `json:"tagline"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

const versionTagline = "loose pages, bound"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show quire build information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		format, _ := flags.GetString("format")
		hash, _ := flags.GetBool("hash")
		date, _ := flags.GetBool("date")
		full, _ := flags.GetBool("full")
		opts := versionOptions{
			format:   strings.ToLower(format),
			showHash: hash || full,
			showDate: date || full,
		}
		switch opts.format {
		case "pretty":
			renderVersionPretty(cmd.OutOrStdout(), opts)
			return nil
		case "json":
			return renderVersionJSON(cmd.OutOrStdout(), opts)
		}
		return errInvalidFlag("format", format, "pretty|json")
	},
}

func init() {
	versionCmd.Flags().Bool("hash", false, "include git commit hash")
	versionCmd.Flags().Bool("date", false, "include build timestamp")
	versionCmd.Flags().Bool("full", false, "show every recorded bit of build metadata")
	versionCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

func renderVersionPretty(out io.Writer, opts versionOptions) {
	_, _ = fmt.Fprintf(out, "quire %s: %s\n", version.Colored(), versionTagline)
	if opts.showHash {
		_, _ = fmt.Fprintf(out, "commit: %s\n", valueOrUnknown(version.GitCommit))
	}
	if opts.showDate {
		_, _ = fmt.Fprintf(out, "built:  %s\n", valueOrUnknown(version.BuildDate))
	}
}

func renderVersionJSON(out io.Writer, opts versionOptions) error {
	payload := versionPayload{
		Tool:    "quire",
		Version: strings.TrimSpace(version.Version),
		Tagline: versionTagline,
	}
	if opts.showHash {
		payload.GitCommit = valueOrUnknown(version.GitCommit)
	}
	if opts.showDate {
		payload.BuildDate = valueOrUnknown(version.BuildDate)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func valueOrUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}
