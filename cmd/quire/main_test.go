package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"quire/internal/driver"
	"quire/internal/emit"
	"quire/internal/project"
	"quire/internal/split"
)

func TestUIModeSet(t *testing.T) {
	tests := []struct {
		in      string
		want    uiMode
		wantErr bool
	}{
		{"", uiModeAuto, false},
		{"AUTO", uiModeAuto, false},
		{" on ", uiModeOn, false},
		{"off", uiModeOff, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		var got uiMode
		err := got.Set(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("Set(%q) = %q, %v; want %q (err %v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), 1},
		{fmt.Errorf("build: %w", context.Canceled), 130},
		{project.ErrConfigNotFound, 2},
		{&split.SplitPolicyError{}, 2},
		{&driver.GraphError{Errors: []error{errors.New("a")}}, 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPrintErrorListsGraphFailures(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	printError(&buf, &driver.GraphError{Errors: []error{errors.New("a.js: boom"), errors.New("b.js: bang")}})
	got := buf.String()
	want := "error: 2 modules failed\n  - a.js: boom\n  - b.js: bang\n"
	if got != want {
		t.Fatalf("printError = %q, want %q", got, want)
	}

	buf.Reset()
	printError(&buf, fmt.Errorf("load: %w", project.ErrConfigNotFound))
	if !strings.Contains(buf.String(), "hint:") {
		t.Fatalf("missing hint: %q", buf.String())
	}
}

const testConfig = `
mode = "development"

[entry]
main = "./src/main.js"

[output]
path = "dist"
`

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"quire.toml":  testConfig,
		"src/main.js": "import { n } from './n.js'\nimport('./lazy.js').then(m => m.run(n))\n",
		"src/n.js":    "export const n = 1\n",
		"src/lazy.js": "export function run() {}\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return root
}

// execute runs the root command and returns what it wrote to stdout.
// Whatever went to stderr is attached to a returned error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil && errOut.Len() > 0 {
		err = fmt.Errorf("%w\nstderr:\n%s", err, errOut.String())
	}
	return out.String(), err
}

func TestBuildAndPlanCommands(t *testing.T) {
	color.NoColor = true
	root := writeProject(t)

	out, err := execute(t, "--log-level", "error", "build", "--ui", "off", root)
	if err != nil {
		t.Fatalf("build: %v\n%s", err, out)
	}
	if !strings.Contains(out, "built 3 modules") {
		t.Fatalf("build output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(root, "dist", emit.ManifestName)); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}

	out, err = execute(t, "--log-level", "error", "plan", "--json", root)
	if err != nil {
		t.Fatalf("plan: %v\n%s", err, out)
	}
	var man emit.Manifest
	if err := json.Unmarshal([]byte(out), &man); err != nil {
		t.Fatalf("plan --json is not a manifest: %v\n%s", err, out)
	}
	if len(man.Entrypoints["main"]) == 0 || len(man.Async) != 1 {
		t.Fatalf("manifest = %+v", man)
	}

	out, err = execute(t, "clean", root)
	if err != nil {
		t.Fatalf("clean: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(root, "dist")); !os.IsNotExist(err) {
		t.Fatalf("dist still present after clean: %v", err)
	}
}

func TestBuildWithoutConfig(t *testing.T) {
	_, err := execute(t, "build", "--ui", "off", t.TempDir())
	if !errors.Is(err, project.ErrConfigNotFound) {
		t.Fatalf("err = %v, want ErrConfigNotFound", err)
	}
}
