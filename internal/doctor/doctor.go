// Package doctor validates smoker configuration against the discovered
// adapters, the known rules and the project on disk.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/mattjoyce/smoker/internal/config"
	"github.com/mattjoyce/smoker/internal/plugin"
	"github.com/mattjoyce/smoker/internal/project"
	"github.com/mattjoyce/smoker/internal/rules"
	"github.com/mattjoyce/smoker/internal/smoke"
	"github.com/mattjoyce/smoker/internal/storage"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Digest   string  `json:"digest,omitempty"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered adapters and rules.
type Doctor struct {
	cfg      *config.Config
	adapters *plugin.Registry
	rules    *rules.Registry
}

// New creates a Doctor from a loaded config, adapter registry and rule registry.
func New(cfg *config.Config, adapters *plugin.Registry, rs *rules.Registry) *Doctor {
	if adapters == nil {
		adapters = plugin.NewRegistry()
	}
	if rs == nil {
		rs = rules.Builtin()
	}
	return &Doctor{cfg: cfg, adapters: adapters, rules: rs}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateSettings(r)
	d.validatePkgManagers(r)
	d.validateRules(r)
	d.validateAdaptersDirs(r)
	d.validateHistory(r)
	d.validateProject(r)
	d.warnUnusedAdapters(r)
	d.warnMissingEnvVars(r)
	d.checkFingerprint(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateSettings re-runs the loader checks so hand-built configs are covered too.
func (d *Doctor) validateSettings(r *Result) {
	if err := config.Validate(d.cfg); err != nil {
		d.addError(r, "settings", "", err.Error())
	}
}

// validatePkgManagers checks that every requested package manager has an adapter.
func (d *Doctor) validatePkgManagers(r *Result) {
	for i, raw := range d.cfg.PkgManagers {
		field := fmt.Sprintf("pkg_managers[%d]", i)
		spec, err := smoke.ParsePkgManagerSpec(raw)
		if err != nil {
			continue
		}
		p, ok := d.adapters.ForPkgManager(spec.Name)
		if !ok {
			d.addError(r, "adapters", field,
				fmt.Sprintf("no adapter in adapters_dirs serves %q", spec.Name))
			continue
		}
		for _, cmd := range []string{plugin.CommandPack, plugin.CommandInstall, plugin.CommandRunScript} {
			if !p.SupportsCommand(cmd) {
				d.addError(r, "adapters", field,
					fmt.Sprintf("adapter %q does not declare command %q", p.Name, cmd))
			}
		}
	}
}

// validateRules checks rule names and whether lint has anything to run.
func (d *Doctor) validateRules(r *Result) {
	names := make([]string, 0, len(d.cfg.Rules))
	for name := range d.cfg.Rules {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, ok := d.rules.Get(name); !ok {
			d.addError(r, "rules", "rules."+name,
				fmt.Sprintf("unknown rule %q (known: %s)", name, strings.Join(d.rules.Names(), ", ")))
		}
	}

	if !d.cfg.Lint {
		return
	}
	settings := make(map[string]rules.Setting, len(d.cfg.Rules))
	for name, rc := range d.cfg.Rules {
		if _, ok := d.rules.Get(name); ok {
			settings[name] = rules.Setting{Severity: rc.Severity, Opts: rc.Opts}
		}
	}
	enabled, err := d.rules.Enabled(settings)
	if err == nil && len(enabled) == 0 {
		d.addWarning(r, "rules", "lint", "lint is enabled but every rule is off; the lint stage will be skipped")
	}
}

func (d *Doctor) validateAdaptersDirs(r *Result) {
	for i, dir := range d.cfg.AdaptersDirs {
		info, err := os.Stat(dir)
		field := fmt.Sprintf("adapters_dirs[%d]", i)
		switch {
		case err != nil:
			d.addWarning(r, "adapters", field, fmt.Sprintf("directory %s does not exist", dir))
		case !info.IsDir():
			d.addError(r, "adapters", field, fmt.Sprintf("%s is not a directory", dir))
		}
	}
}

func (d *Doctor) validateHistory(r *Result) {
	if !d.cfg.History.Enabled || d.cfg.History.Path == "" {
		return
	}
	if err := storage.ValidateFilesystem(d.cfg.History.Path); err != nil {
		d.addError(r, "history", "history.path", err.Error())
	}
}

// validateProject resolves the workspace selection and checks requested scripts exist.
func (d *Doctor) validateProject(r *Result) {
	ws, err := project.Resolve(d.cfg.Cwd, project.Selection{
		Names:       d.cfg.Workspaces,
		All:         d.cfg.All,
		IncludeRoot: d.cfg.IncludeRoot,
	})
	if err != nil {
		d.addError(r, "project", "cwd", err.Error())
		return
	}

	for _, script := range d.cfg.Scripts {
		for _, w := range ws {
			if w.HasScript(script) {
				continue
			}
			msg := fmt.Sprintf("workspace %q has no %q script", w.Name, script)
			if d.cfg.Loose {
				d.addWarning(r, "scripts", "scripts", msg+"; it will be skipped")
			} else {
				d.addError(r, "scripts", "scripts", msg+"; set loose: true to skip it")
			}
		}
	}
}

// warnUnusedAdapters warns about adapters that serve none of the requested package managers.
func (d *Doctor) warnUnusedAdapters(r *Result) {
	var requested []string
	for _, raw := range d.cfg.PkgManagers {
		if spec, err := smoke.ParsePkgManagerSpec(raw); err == nil {
			requested = append(requested, spec.Name)
		}
	}
	for _, p := range d.adapters.All() {
		used := slices.ContainsFunc(requested, p.Serves)
		if !used {
			d.addWarning(r, "adapters", "adapters_dirs",
				fmt.Sprintf("adapter %q is discovered but not used by pkg_managers", p.Name))
		}
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved in the config file.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	if d.cfg.SourcePath == "" {
		return
	}
	data, err := os.ReadFile(d.cfg.SourcePath)
	if err != nil {
		return
	}
	var seen []string
	for _, m := range envVarRe.FindAllStringSubmatch(string(data), -1) {
		name := m[1]
		if slices.Contains(seen, name) {
			continue
		}
		seen = append(seen, name)
		if _, ok := os.LookupEnv(name); !ok {
			d.addWarning(r, "env_vars", d.cfg.SourcePath,
				fmt.Sprintf("environment variable ${%s} not set", name))
		}
	}
}

// checkFingerprint records the file digest and flags edits made after loading.
func (d *Doctor) checkFingerprint(r *Result) {
	if d.cfg.SourcePath == "" {
		return
	}
	digest, err := config.ComputeBlake3Hash(d.cfg.SourcePath)
	if err != nil {
		d.addError(r, "integrity", d.cfg.SourcePath, err.Error())
		return
	}
	r.Digest = digest
	if d.cfg.Fingerprint != "" && d.cfg.Fingerprint != digest {
		d.addWarning(r, "integrity", d.cfg.SourcePath, "config file changed since it was loaded")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
