package project

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// Mode selects the build profile.
type Mode string

const (
	// ModeDevelopment keeps going on module errors and skips minification.
	ModeDevelopment Mode = "development"
	// ModeProduction stops at the first module error and minifies output.
	ModeProduction Mode = "production"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "dev":
		return ModeDevelopment, nil
	case "production", "prod", "release":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected development|production)", s)
	}
}

// CacheType selects where transformed modules are kept between builds.
type CacheType string

const (
	CacheNone       CacheType = "none"
	CacheMemory     CacheType = "memory"
	CacheFilesystem CacheType = "filesystem"
)

// AssetResource is the rule type that copies a file to the output directory
// and exports its public URL.
const AssetResource = "asset/resource"

// Entry names one entry module.
type Entry struct {
	Name      string
	Specifier string
}

// Output configures emitted artifacts.
type Output struct {
	Path       string // absolute output directory
	Filename   string // file name template, supports [name] and [contenthash]
	PublicPath string
	Clean      bool
	Banner     string
}

// Resolve configures module resolution.
type Resolve struct {
	Extensions []string
	Alias      map[string]string // alias key -> absolute path or bare specifier
	Modules    []string
	MainFields []string
}

// Rule selects loader stages by file pattern.
type Rule struct {
	Test    string
	Exclude string
	Include string
	Use     []string
	Type    string
}

// Cache configures the module cache.
type Cache struct {
	Type        CacheType
	Directory   string // absolute, only for CacheFilesystem
	Compression string
}

// SplitChunks mirrors the chunk splitting policy knobs.
type SplitChunks struct {
	MinSize              int
	MinChunks            int
	MaxAsyncRequests     int
	MaxInitialRequests   int
	EnforceSizeThreshold int
	VendorTest           string
	VendorName           string
	CommonName           string
}

// Optimization configures output optimisation.
type Optimization struct {
	Minimize    bool
	Jobs        int
	SplitChunks SplitChunks
}

// Config is the resolved, validated project configuration. A Config is
// built once by Load and handed to each component by value; accessors that
// expose maps or slices return copies.
type Config struct {
	Path         string // configuration file, empty for programmatic configs
	Root         string // absolute project root
	Mode         Mode
	Bail         bool // stop at the first module error
	Entries      []Entry
	Output       Output
	Resolve      Resolve
	Rules        []Rule
	Define       map[string]string
	Cache        Cache
	Optimization Optimization
}

// DefaultVendorTest matches files under a node_modules directory.
const DefaultVendorTest = `[\\/]node_modules[\\/]`

// Defaults returns a configuration for root with every knob at its
// mode-dependent default.
func Defaults(root string, mode Mode) Config {
	prod := mode == ModeProduction
	minSize := 20000
	if !prod {
		minSize = 10000
	}
	return Config{
		Root: root,
		Mode: mode,
		Bail: prod,
		Output: Output{
			Path:     joinRoot(root, "dist"),
			Filename: "[name].bundle.js",
			Clean:    true,
		},
		Resolve: Resolve{
			Extensions: []string{".js", ".jsx", ".json"},
			Alias:      map[string]string{},
			Modules:    []string{"node_modules"},
			MainFields: []string{"main"},
		},
		Rules: []Rule{
			{Test: `\.json$`, Use: []string{"json"}},
		},
		Define: map[string]string{},
		Cache:  Cache{Type: CacheMemory, Compression: "zstd"},
		Optimization: Optimization{
			Minimize: prod,
			SplitChunks: SplitChunks{
				MinSize:              minSize,
				MinChunks:            1,
				MaxAsyncRequests:     30,
				MaxInitialRequests:   30,
				EnforceSizeThreshold: 50000,
				VendorTest:           DefaultVendorTest,
				VendorName:           "vendors",
				CommonName:           "common",
			},
		},
	}
}

// Aliases returns a copy of the alias table.
func (c Config) Aliases() map[string]string {
	return maps.Clone(c.Resolve.Alias)
}

// Defines returns a copy of the compile-time constant table.
func (c Config) Defines() map[string]string {
	return maps.Clone(c.Define)
}

// EntryNames returns entry names in declaration order (sorted by name).
func (c Config) EntryNames() []string {
	names := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		names[i] = e.Name
	}
	return names
}

var (
	// ErrNoEntries indicates a configuration without entry modules.
	ErrNoEntries = errors.New("no entry modules configured")
	// ErrNoOutput indicates a configuration without an output directory.
	ErrNoOutput = errors.New("missing output path")
)

var chunkNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)

// Validate checks the invariants Load relies on.
func (c Config) Validate() error {
	if len(c.Entries) == 0 {
		return ErrNoEntries
	}
	seen := make(map[string]struct{}, len(c.Entries))
	for _, e := range c.Entries {
		if !chunkNamePattern.MatchString(e.Name) {
			return fmt.Errorf("invalid entry name %q", e.Name)
		}
		if strings.TrimSpace(e.Specifier) == "" {
			return fmt.Errorf("entry %q: empty module specifier", e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("duplicate entry %q", e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.Output.Path == "" {
		return ErrNoOutput
	}
	// cleaning the output must never reach the sources
	if c.Output.Path == c.Root || PathWithin(c.Output.Path, c.Root) {
		return fmt.Errorf("output path %q must not contain the project root", c.Output.Path)
	}
	if !strings.Contains(c.Output.Filename, "[name]") {
		return fmt.Errorf("output filename %q must contain [name]", c.Output.Filename)
	}
	for _, ext := range c.Resolve.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("resolve extension %q must start with '.'", ext)
		}
	}
	for i, r := range c.Rules {
		if r.Test == "" {
			return fmt.Errorf("module rule %d: missing test", i)
		}
		for _, pattern := range []string{r.Test, r.Exclude, r.Include} {
			if pattern == "" {
				continue
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("module rule %d: %w", i, err)
			}
		}
		if len(r.Use) == 0 && r.Type == "" {
			return fmt.Errorf("module rule %d: needs use or type", i)
		}
		if r.Type != "" && r.Type != AssetResource {
			return fmt.Errorf("module rule %d: unsupported type %q", i, r.Type)
		}
	}
	switch c.Cache.Type {
	case CacheNone, CacheMemory:
	case CacheFilesystem:
		if c.Cache.Directory == "" {
			return errors.New("filesystem cache requires cache.directory")
		}
	default:
		return fmt.Errorf("unsupported cache type %q", c.Cache.Type)
	}
	if !slices.Contains([]string{"none", "zstd", "lz4"}, c.Cache.Compression) {
		return fmt.Errorf("unsupported cache compression %q", c.Cache.Compression)
	}
	sc := c.Optimization.SplitChunks
	if sc.VendorTest != "" {
		if _, err := regexp.Compile(sc.VendorTest); err != nil {
			return fmt.Errorf("split_chunks.vendor_test: %w", err)
		}
	}
	for _, name := range []string{sc.VendorName, sc.CommonName} {
		if !chunkNamePattern.MatchString(name) {
			return fmt.Errorf("invalid chunk group name %q", name)
		}
		if _, clash := seen[name]; clash {
			return fmt.Errorf("chunk group name %q clashes with an entry", name)
		}
	}
	if sc.VendorName == sc.CommonName {
		return fmt.Errorf("vendor and common chunk groups share the name %q", sc.VendorName)
	}
	if c.Optimization.Jobs < 0 {
		return fmt.Errorf("optimization.jobs must not be negative")
	}
	return nil
}
