package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestLine(t *testing.T) {
	color.NoColor = true
	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = origVersion, origCommit, origDate })

	tests := []struct {
		version, commit, date string
		want                  string
	}{
		{"0.1.0-dev", "", "", "quire 0.1.0-dev"},
		{"1.2.3", "1234567890abcdef", "", "quire 1.2.3 (1234567890ab)"},
		{"1.2.3-rc.1", "abc", "2026-01-15", "quire 1.2.3-rc.1 (abc) built 2026-01-15"},
		{"nightly", "", "", "quire nightly"},
	}
	for _, tt := range tests {
		Version, GitCommit, BuildDate = tt.version, tt.commit, tt.date
		if got := Line(); got != tt.want {
			t.Fatalf("Line() = %q, want %q", got, tt.want)
		}
	}
}
