package version

import (
	"strings"

	"github.com/fatih/color"
)

// Version information for the quire CLI.
// These variables can be overridden at build time via -ldflags.
var (
	// Version is the semantic version of the CLI.
	Version = "0.1.0-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

var (
	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)
)

// Colored renders Version with the major, minor and patch parts coloured.
// fatih/color drops the escapes when stdout is not a terminal or NO_COLOR
// is set.
func Colored() string {
	core, suffix, _ := strings.Cut(Version, "-")
	parts := strings.SplitN(core, ".", 3)
	if len(parts) != 3 {
		return Version
	}
	out := versionMajorColor.Sprint(parts[0]) + "." + versionMinorColor.Sprint(parts[1]) + "." + versionPatchColor.Sprint(parts[2])
	if suffix != "" {
		out += "-" + suffix
	}
	return out
}

// Line is the one-line description printed by `quire version`.
func Line() string {
	var sb strings.Builder
	sb.WriteString("quire ")
	sb.WriteString(Colored())
	if GitCommit != "" {
		commit := GitCommit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		sb.WriteString(" (" + commit + ")")
	}
	if BuildDate != "" {
		sb.WriteString(" built " + BuildDate)
	}
	return sb.String()
}
