package project

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const productionToml = `
mode = "production"

[entry]
main = "./src/components/index.js"

[output]
path = "dist"
filename = "[name].bundle.js"

[resolve]
extensions = [".js", ".jsx"]

[resolve.alias]
"@" = "./src"
preact = "preact/compat"

[[module.rules]]
test = '\.(?:js|jsx)$'
exclude = 'node_modules'
use = ["babel-loader"]

[[module.rules]]
test = '\.css$'
use = ["style-loader", "css-loader"]

[[module.rules]]
test = '\.(png|svg|jpg|jpeg|gif)$'
type = "asset/resource"

[define]
API_URL = '"https://api.example.com"'

[optimization]
minimize = true

[optimization.split_chunks]
min_size = 200
min_chunks = 1
max_async_requests = 30
max_initial_requests = 30
enforce_size_threshold = 50000
`

func TestLoadProductionToml(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "quire.toml")
	writeFile(t, path, productionToml)

	cfg, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeProduction || !cfg.Bail || !cfg.Optimization.Minimize {
		t.Fatalf("mode=%s bail=%v minimize=%v, want production/true/true", cfg.Mode, cfg.Bail, cfg.Optimization.Minimize)
	}
	if len(cfg.Entries) != 1 || cfg.Entries[0].Name != "main" || cfg.Entries[0].Specifier != "./src/components/index.js" {
		t.Fatalf("entries = %+v", cfg.Entries)
	}
	if want := filepath.Join(root, "dist"); cfg.Output.Path != want {
		t.Fatalf("output path = %q, want %q", cfg.Output.Path, want)
	}
	if got := cfg.Resolve.Alias["@"]; got != filepath.Join(root, "src") {
		t.Fatalf("alias @ = %q", got)
	}
	if got := cfg.Resolve.Alias["preact"]; got != "preact/compat" {
		t.Fatalf("bare alias rewritten to %q", got)
	}
	if len(cfg.Rules) != 3 || cfg.Rules[2].Type != AssetResource {
		t.Fatalf("rules = %+v", cfg.Rules)
	}
	if got := cfg.Define["API_URL"]; got != `"https://api.example.com"` {
		t.Fatalf("define API_URL = %q", got)
	}
	if got := cfg.Define["process.env.NODE_ENV"]; got != `"production"` {
		t.Fatalf("NODE_ENV define = %q", got)
	}
	sc := cfg.Optimization.SplitChunks
	if sc.MinSize != 200 || sc.MinChunks != 1 || sc.EnforceSizeThreshold != 50000 || sc.VendorName != "vendors" {
		t.Fatalf("split chunks = %+v", sc)
	}
}

func TestLoadYamlDevelopmentDefaults(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "quire.yaml")
	writeFile(t, path, `
mode: development
entry:
  app: ./src/app.js
  admin: ./src/admin.js
cache:
  type: filesystem
  directory: dist/.temp_cache
`)
	cfg, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bail || cfg.Optimization.Minimize {
		t.Fatalf("development must not bail or minimize: %+v", cfg)
	}
	if got := cfg.EntryNames(); strings.Join(got, ",") != "admin,app" {
		t.Fatalf("entry names = %v, want sorted [admin app]", got)
	}
	if want := filepath.Join(root, "dist", ".temp_cache"); cfg.Cache.Directory != want {
		t.Fatalf("cache dir = %q, want %q", cfg.Cache.Directory, want)
	}
}

func TestLoadOverrides(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "quire.toml")
	writeFile(t, path, "entry = \"./index.js\"\n")
	bail := false
	cfg, err := Load(path, Overrides{Mode: ModeDevelopment, OutputPath: "build", NoCache: true, Jobs: 3, Bail: &bail})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeDevelopment || cfg.Cache.Type != CacheNone || cfg.Optimization.Jobs != 3 || cfg.Bail {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Output.Path != filepath.Join(root, "build") {
		t.Fatalf("output path = %q", cfg.Output.Path)
	}
}

func TestLoadEnvDefines(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".env"), "QUIRE_API=https://x.test\nSECRET=hunter2\n")
	path := filepath.Join(root, "quire.toml")
	writeFile(t, path, `
entry = "./index.js"
[env]
file = ".env"
prefix = "QUIRE_"
`)
	cfg, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Define["process.env.QUIRE_API"]; got != `"https://x.test"` {
		t.Fatalf("env define = %q", got)
	}
	if _, leaked := cfg.Define["process.env.SECRET"]; leaked {
		t.Fatalf("unprefixed env key leaked into defines")
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no entry", "mode = \"production\"\n", "no entry modules"},
		{"bad mode", "mode = \"fast\"\nentry = \"./a.js\"\n", "invalid mode"},
		{"bad rule regexp", "entry = \"./a.js\"\n[[module.rules]]\ntest = '('\nuse = [\"raw\"]\n", "module rule 0"},
		{"rule without use", "entry = \"./a.js\"\n[[module.rules]]\ntest = 'x'\n", "needs use or type"},
		{"filename without name", "entry = \"./a.js\"\n[output]\nfilename = \"bundle.js\"\n", "must contain [name]"},
		{"bad compression", "entry = \"./a.js\"\n[cache]\ncompression = \"gzip\"\n", "unsupported cache compression"},
		{"group clash", "[entry]\nvendors = \"./a.js\"\n", "clashes with an entry"},
		{"output is root", "entry = \"./a.js\"\n[output]\npath = \".\"\n", "must not contain the project root"},
		{"output above root", "entry = \"./a.js\"\n[output]\npath = \"..\"\n", "must not contain the project root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, "quire.toml")
			writeFile(t, path, tt.content)
			_, err := Load(path, Overrides{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestFindConfigWalksUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "quire.yml"), "entry: ./a.js\n")
	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path, ok, err := FindConfig(nested)
	if err != nil || !ok {
		t.Fatalf("FindConfig = %q, %v, %v", path, ok, err)
	}
	if path != filepath.Join(root, "quire.yml") {
		t.Fatalf("FindConfig path = %q", path)
	}
}

func TestLoadFromDirMissing(t *testing.T) {
	_, err := LoadFromDir(t.TempDir(), Overrides{})
	if !errors.Is(err, ErrConfigNotFound) {
		// a quire.toml in a parent of the temp dir would be unusual but possible
		if err == nil {
			t.Fatalf("expected an error")
		}
	}
}

func TestDigestCombineDeterministic(t *testing.T) {
	a := HashBytes([]byte("a"))
	b := HashBytes([]byte("b"))
	if Combine(a, b) != Combine(a, b) {
		t.Fatalf("Combine is not deterministic")
	}
	if Combine(a, b) == Combine(b, a) {
		t.Fatalf("Combine must depend on order")
	}
	if len(a.Short(8)) != 8 || a.IsZero() {
		t.Fatalf("unexpected digest helpers: %q", a.Short(8))
	}
}

func TestPathWithin(t *testing.T) {
	root := filepath.FromSlash("/app/dist")
	tests := []struct {
		path string
		want bool
	}{
		{"/app/dist/.cache", true},
		{"/app/dist/a/b", true},
		{"/app/dist", false},
		{"/app", false},
		{"/app/dist2", false},
		{"/app/dist/..cache", true},
	}
	for _, tt := range tests {
		if got := PathWithin(root, filepath.FromSlash(tt.path)); got != tt.want {
			t.Fatalf("PathWithin(%q, %q) = %v, want %v", root, tt.path, got, tt.want)
		}
	}
}
