package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned by LoadFromDir when no configuration file exists
// in the start directory or any of its parents.
var ErrConfigNotFound = errors.New("no quire.toml or quire.yaml found")

// Overrides carries command line values that take precedence over the file.
type Overrides struct {
	Mode       Mode
	OutputPath string
	NoCache    bool
	Jobs       int
	Bail       *bool
}

type rawConfig struct {
	Mode         string            `toml:"mode" yaml:"mode"`
	Bail         *bool             `toml:"bail" yaml:"bail"`
	Entry        any               `toml:"entry" yaml:"entry"`
	Output       rawOutput         `toml:"output" yaml:"output"`
	Resolve      rawResolve        `toml:"resolve" yaml:"resolve"`
	Module       rawModule         `toml:"module" yaml:"module"`
	Define       map[string]string `toml:"define" yaml:"define"`
	Env          rawEnv            `toml:"env" yaml:"env"`
	Cache        rawCache          `toml:"cache" yaml:"cache"`
	Optimization rawOptimization   `toml:"optimization" yaml:"optimization"`
}

type rawOutput struct {
	Path       string `toml:"path" yaml:"path"`
	Filename   string `toml:"filename" yaml:"filename"`
	PublicPath string `toml:"public_path" yaml:"public_path"`
	Clean      *bool  `toml:"clean" yaml:"clean"`
	Banner     string `toml:"banner" yaml:"banner"`
}

type rawResolve struct {
	Extensions []string          `toml:"extensions" yaml:"extensions"`
	Alias      map[string]string `toml:"alias" yaml:"alias"`
	Modules    []string          `toml:"modules" yaml:"modules"`
	MainFields []string          `toml:"main_fields" yaml:"main_fields"`
}

type rawModule struct {
	Rules []rawRule `toml:"rules" yaml:"rules"`
}

type rawRule struct {
	Test    string   `toml:"test" yaml:"test"`
	Exclude string   `toml:"exclude" yaml:"exclude"`
	Include string   `toml:"include" yaml:"include"`
	Use     []string `toml:"use" yaml:"use"`
	Type    string   `toml:"type" yaml:"type"`
}

type rawEnv struct {
	File   string `toml:"file" yaml:"file"`
	Prefix string `toml:"prefix" yaml:"prefix"`
}

type rawCache struct {
	Type        string `toml:"type" yaml:"type"`
	Directory   string `toml:"directory" yaml:"directory"`
	Compression string `toml:"compression" yaml:"compression"`
}

type rawOptimization struct {
	Minimize    *bool          `toml:"minimize" yaml:"minimize"`
	Jobs        int            `toml:"jobs" yaml:"jobs"`
	SplitChunks rawSplitChunks `toml:"split_chunks" yaml:"split_chunks"`
}

type rawSplitChunks struct {
	MinSize              *int   `toml:"min_size" yaml:"min_size"`
	MinChunks            *int   `toml:"min_chunks" yaml:"min_chunks"`
	MaxAsyncRequests     *int   `toml:"max_async_requests" yaml:"max_async_requests"`
	MaxInitialRequests   *int   `toml:"max_initial_requests" yaml:"max_initial_requests"`
	EnforceSizeThreshold *int   `toml:"enforce_size_threshold" yaml:"enforce_size_threshold"`
	VendorTest           string `toml:"vendor_test" yaml:"vendor_test"`
	VendorName           string `toml:"vendor_name" yaml:"vendor_name"`
	CommonName           string `toml:"common_name" yaml:"common_name"`
}

// LoadFromDir locates the configuration starting at startDir and loads it.
func LoadFromDir(startDir string, ov Overrides) (Config, error) {
	path, ok, err := FindConfig(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, ErrConfigNotFound
	}
	return Load(path, ov)
}

// Load parses a quire.toml or quire.yaml file and returns the validated configuration.
func Load(path string, ov Overrides) (Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	raw, err := decodeFile(abs)
	if err != nil {
		return Config{}, err
	}
	cfg, err := fromRaw(raw, filepath.Dir(abs), ov)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", abs, err)
	}
	cfg.Path = abs
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", abs, err)
	}
	return cfg, nil
}

func decodeFile(path string) (rawConfig, error) {
	var raw rawConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return rawConfig{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return rawConfig{}, fmt.Errorf("%s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return rawConfig{}, fmt.Errorf("%s: failed to parse YAML: %w", path, err)
		}
	default:
		return rawConfig{}, fmt.Errorf("%s: unsupported configuration format", path)
	}
	return raw, nil
}

func fromRaw(raw rawConfig, root string, ov Overrides) (Config, error) {
	mode := ModeProduction
	if raw.Mode != "" {
		m, err := ParseMode(raw.Mode)
		if err != nil {
			return Config{}, err
		}
		mode = m
	}
	if ov.Mode != "" {
		mode = ov.Mode
	}
	cfg := Defaults(root, mode)

	if raw.Bail != nil {
		cfg.Bail = *raw.Bail
	}
	entries, err := parseEntries(raw.Entry)
	if err != nil {
		return Config{}, err
	}
	cfg.Entries = entries

	if raw.Output.Path != "" {
		cfg.Output.Path = joinRoot(root, raw.Output.Path)
	}
	if raw.Output.Filename != "" {
		cfg.Output.Filename = raw.Output.Filename
	}
	cfg.Output.PublicPath = raw.Output.PublicPath
	if raw.Output.Clean != nil {
		cfg.Output.Clean = *raw.Output.Clean
	}
	cfg.Output.Banner = raw.Output.Banner

	if len(raw.Resolve.Extensions) > 0 {
		cfg.Resolve.Extensions = append([]string(nil), raw.Resolve.Extensions...)
	}
	for key, target := range raw.Resolve.Alias {
		cfg.Resolve.Alias[key] = aliasTarget(root, target)
	}
	if len(raw.Resolve.Modules) > 0 {
		cfg.Resolve.Modules = append([]string(nil), raw.Resolve.Modules...)
	}
	if len(raw.Resolve.MainFields) > 0 {
		cfg.Resolve.MainFields = append([]string(nil), raw.Resolve.MainFields...)
	}

	if len(raw.Module.Rules) > 0 {
		cfg.Rules = make([]Rule, 0, len(raw.Module.Rules))
		for _, r := range raw.Module.Rules {
			cfg.Rules = append(cfg.Rules, Rule{
				Test:    r.Test,
				Exclude: r.Exclude,
				Include: r.Include,
				Use:     append([]string(nil), r.Use...),
				Type:    r.Type,
			})
		}
	}

	for key, value := range raw.Define {
		cfg.Define[key] = value
	}
	if raw.Env.File != "" {
		envDefines, err := readEnvDefines(joinRoot(root, raw.Env.File), raw.Env.Prefix)
		if err != nil {
			return Config{}, err
		}
		for key, value := range envDefines {
			if _, explicit := cfg.Define[key]; !explicit {
				cfg.Define[key] = value
			}
		}
	}
	if _, ok := cfg.Define["process.env.NODE_ENV"]; !ok {
		cfg.Define["process.env.NODE_ENV"] = jsString(string(mode))
	}

	if raw.Cache.Type != "" {
		cfg.Cache.Type = CacheType(strings.ToLower(raw.Cache.Type))
	}
	if raw.Cache.Compression != "" {
		cfg.Cache.Compression = strings.ToLower(raw.Cache.Compression)
	}
	if cfg.Cache.Type == CacheFilesystem {
		dir := raw.Cache.Directory
		if dir == "" {
			dir = filepath.Join("node_modules", ".cache", "quire")
		}
		cfg.Cache.Directory = joinRoot(root, dir)
	}

	opt := raw.Optimization
	if opt.Minimize != nil {
		cfg.Optimization.Minimize = *opt.Minimize
	}
	cfg.Optimization.Jobs = opt.Jobs
	sc := &cfg.Optimization.SplitChunks
	setInt(&sc.MinSize, opt.SplitChunks.MinSize)
	setInt(&sc.MinChunks, opt.SplitChunks.MinChunks)
	setInt(&sc.MaxAsyncRequests, opt.SplitChunks.MaxAsyncRequests)
	setInt(&sc.MaxInitialRequests, opt.SplitChunks.MaxInitialRequests)
	setInt(&sc.EnforceSizeThreshold, opt.SplitChunks.EnforceSizeThreshold)
	if opt.SplitChunks.VendorTest != "" {
		sc.VendorTest = opt.SplitChunks.VendorTest
	}
	if opt.SplitChunks.VendorName != "" {
		sc.VendorName = opt.SplitChunks.VendorName
	}
	if opt.SplitChunks.CommonName != "" {
		sc.CommonName = opt.SplitChunks.CommonName
	}

	if ov.OutputPath != "" {
		cfg.Output.Path = joinRoot(root, ov.OutputPath)
	}
	if ov.NoCache {
		cfg.Cache.Type = CacheNone
	}
	if ov.Jobs > 0 {
		cfg.Optimization.Jobs = ov.Jobs
	}
	if ov.Bail != nil {
		cfg.Bail = *ov.Bail
	}
	return cfg, nil
}

// parseEntries accepts either a single specifier (entry named "main") or a
// table of name -> specifier.
func parseEntries(v any) ([]Entry, error) {
	switch e := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []Entry{{Name: "main", Specifier: e}}, nil
	case map[string]any:
		entries := make([]Entry, 0, len(e))
		for name, spec := range e {
			s, ok := spec.(string)
			if !ok {
				return nil, fmt.Errorf("entry %q: specifier must be a string", name)
			}
			entries = append(entries, Entry{Name: name, Specifier: s})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		return entries, nil
	default:
		return nil, fmt.Errorf("entry must be a string or a table, got %T", v)
	}
}

func readEnvDefines(path, prefix string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		out["process.env."+key] = jsString(value)
	}
	return out, nil
}

// aliasTarget keeps bare package names as specifiers and anchors paths at root.
func aliasTarget(root, target string) string {
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	if target == "." || strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		return joinRoot(root, target)
	}
	return target
}

func joinRoot(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
