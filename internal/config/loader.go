package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/smoker/internal/smoke"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// configFilenames are probed in order by Discover.
var configFilenames = []string{"smoker.yaml", "smoker.yml", ".smoker.yaml"}

// KnownReporters lists the reporter names the CLI can construct.
var KnownReporters = []string{"console", "json", "history", "api", "tui"}

// Load reads and parses configuration from a file.
// Relative paths inside the file are resolved against the file's directory.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		found, ok := Discover(absPath)
		if !ok {
			return nil, fmt.Errorf("directory provided but no smoker.yaml found: %s", absPath)
		}
		absPath = found
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.SourcePath = absPath
	cfg.Fingerprint = Fingerprint(data)
	cfg.resolvePaths(filepath.Dir(absPath))
	cfg.normalize()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config file found in dir, or returns defaults rooted at dir.
func LoadOrDefault(dir string) (*Config, error) {
	if path, ok := Discover(dir); ok {
		return Load(path)
	}
	cfg := Defaults()
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", dir, err)
	}
	cfg.resolvePaths(abs)
	cfg.normalize()
	return cfg, nil
}

// Discover finds a config file in dir.
func Discover(dir string) (string, bool) {
	for _, name := range configFilenames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

func (c *Config) resolvePaths(baseDir string) {
	c.Cwd = resolvePath(baseDir, c.Cwd)
	for i, dir := range c.AdaptersDirs {
		c.AdaptersDirs[i] = resolvePath(baseDir, dir)
	}
	if c.ScratchDir != "" {
		c.ScratchDir = resolvePath(baseDir, c.ScratchDir)
	}
	if c.History.Path != "" {
		c.History.Path = resolvePath(baseDir, c.History.Path)
	}
}

func resolvePath(baseDir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return baseDir
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.PkgManagers = dedupe(c.PkgManagers)
	c.Workspaces = dedupe(c.Workspaces)
	c.Scripts = dedupe(c.Scripts)
	c.Add = dedupe(c.Add)
	c.Reporters = dedupe(c.Reporters)
	if c.Rules == nil {
		c.Rules = map[string]RuleConf{}
	}
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// interpolateEnv replaces ${VAR} with environment values, leaving unknown placeholders intact.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate performs basic validation on the configuration.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	if len(cfg.PkgManagers) == 0 {
		return fmt.Errorf("pkg_managers must list at least one package manager")
	}
	for i, pm := range cfg.PkgManagers {
		if _, err := smoke.ParsePkgManagerSpec(pm); err != nil {
			return fmt.Errorf("pkg_managers[%d]: %w", i, err)
		}
	}

	if cfg.All && len(cfg.Workspaces) > 0 {
		return fmt.Errorf("all and workspaces are mutually exclusive")
	}

	if !cfg.Lint && len(cfg.Scripts) == 0 {
		return fmt.Errorf("nothing to do: lint is disabled and no scripts are configured")
	}

	for name, rc := range cfg.Rules {
		if !rc.Severity.Valid() {
			return fmt.Errorf("rules.%s: severity must be one of: error, warn, off (got %q)", name, rc.Severity)
		}
	}

	for _, r := range cfg.Reporters {
		if !slices.Contains(KnownReporters, r) {
			return fmt.Errorf("reporters: unknown reporter %q (known: %s)", r, strings.Join(KnownReporters, ", "))
		}
	}

	if cfg.ReporterGrace <= 0 {
		return fmt.Errorf("reporter_grace must be positive")
	}

	t := cfg.Timeouts
	if t.Pack <= 0 || t.Install <= 0 || t.RunScript <= 0 || t.Lifecycle <= 0 {
		return fmt.Errorf("timeouts must all be positive")
	}

	if len(cfg.AdaptersDirs) == 0 {
		return fmt.Errorf("adapters_dirs is required")
	}

	if cfg.History.Enabled && cfg.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}

	return nil
}
