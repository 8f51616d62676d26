package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/smoker/internal/smoke"
)

// Config represents the complete smoker configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	// Cwd is the project root whose package.json is smoked. Relative to the config file.
	Cwd string `yaml:"cwd"`

	PkgManagers []string `yaml:"pkg_managers"`
	Workspaces  []string `yaml:"workspaces,omitempty"`
	All         bool     `yaml:"all"`
	IncludeRoot bool     `yaml:"include_root"`
	// Add lists additional dependencies installed next to the packed workspaces.
	Add []string `yaml:"add,omitempty"`

	Scripts []string            `yaml:"scripts,omitempty"`
	Lint    bool                `yaml:"lint"`
	Rules   map[string]RuleConf `yaml:"rules,omitempty"`

	Linger bool `yaml:"linger"`
	Loose  bool `yaml:"loose"`

	Reporters     []string      `yaml:"reporters"`
	ReporterGrace time.Duration `yaml:"reporter_grace"`

	AdaptersDirs []string       `yaml:"adapters_dirs"`
	ScratchDir   string         `yaml:"scratch_dir,omitempty"`
	Timeouts     TimeoutsConfig `yaml:"timeouts"`

	History HistoryConfig `yaml:"history"`
	API     APIConfig     `yaml:"api,omitempty"`

	// SourcePath is the absolute path of the loaded file, empty for pure defaults.
	SourcePath string `yaml:"-"`
	// Fingerprint is the blake3 digest of the loaded file.
	Fingerprint string `yaml:"-"`
}

// RuleConf configures one lint rule.
//
// Accepted forms:
//   - shorthand: rules: {no-banned-files: warn}
//   - object:    rules: {no-banned-files: {severity: error, opts: {allow: [".npmrc"]}}}
type RuleConf struct {
	Severity smoke.Severity `yaml:"severity"`
	Opts     map[string]any `yaml:"opts,omitempty"`
}

func (r *RuleConf) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		r.Severity = smoke.Severity(strings.ToLower(strings.TrimSpace(n.Value)))
		return nil
	case yaml.MappingNode:
		var tmp struct {
			Severity string         `yaml:"severity"`
			Opts     map[string]any `yaml:"opts"`
		}
		if err := n.Decode(&tmp); err != nil {
			return fmt.Errorf("invalid rule config: %w", err)
		}
		r.Severity = smoke.Severity(strings.ToLower(strings.TrimSpace(tmp.Severity)))
		if r.Severity == "" {
			r.Severity = smoke.SeverityError
		}
		r.Opts = tmp.Opts
		return nil
	default:
		return fmt.Errorf("rule config must be a severity string or an object")
	}
}

// TimeoutsConfig defines per-operation adapter timeouts.
type TimeoutsConfig struct {
	Pack      time.Duration `yaml:"pack"`
	Install   time.Duration `yaml:"install"`
	RunScript time.Duration `yaml:"run_script"`
	Lifecycle time.Duration `yaml:"lifecycle"`
}

// HistoryConfig defines run history storage.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig defines the live event-stream HTTP server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		LogLevel:      "warn",
		Cwd:           ".",
		PkgManagers:   []string{"npm"},
		Lint:          true,
		Rules:         map[string]RuleConf{},
		Reporters:     []string{"console"},
		ReporterGrace: 2 * time.Second,
		AdaptersDirs:  []string{"./adapters"},
		Timeouts: TimeoutsConfig{
			Pack:      2 * time.Minute,
			Install:   5 * time.Minute,
			RunScript: 5 * time.Minute,
			Lifecycle: time.Minute,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "./.smoker/history.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8787",
		},
	}
}
