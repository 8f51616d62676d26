package rules

import (
	"fmt"
	"sort"

	"github.com/mattjoyce/smoker/internal/smoke"
)

// Setting is the user configuration for one rule.
type Setting struct {
	Severity smoke.Severity
	Opts     map[string]any
}

// Registry holds the known rules by name.
type Registry struct {
	rules map[string]Rule
}

// NewRegistry creates a registry with the given rules.
func NewRegistry(rs ...Rule) *Registry {
	r := &Registry{rules: make(map[string]Rule, len(rs))}
	for _, rule := range rs {
		r.rules[rule.Name()] = rule
	}
	return r
}

// Builtin returns a registry with every builtin rule.
func Builtin() *Registry {
	return NewRegistry(NoBannedFiles{}, NoMissingEntryPoint{})
}

// Get looks up a rule.
func (r *Registry) Get(name string) (Rule, bool) {
	rule, ok := r.rules[name]
	return rule, ok
}

// Names returns all rule names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.rules))
	for name := range r.rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Enabled applies settings to the registry. Rules without a setting use their
// default severity; rules set to "off" are dropped. Unknown names are an error.
func (r *Registry) Enabled(settings map[string]Setting) ([]Configured, error) {
	for name := range settings {
		if _, ok := r.rules[name]; !ok {
			return nil, fmt.Errorf("unknown rule %q", name)
		}
	}

	var out []Configured
	for _, name := range r.Names() {
		rule := r.rules[name]
		c := Configured{Rule: rule, Severity: rule.DefaultSeverity()}
		if s, ok := settings[name]; ok {
			if s.Severity != "" {
				c.Severity = s.Severity
			}
			c.Opts = s.Opts
		}
		if c.Severity == smoke.SeverityOff {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
