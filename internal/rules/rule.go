// Package rules holds the lint rule contract, the builtin rules, and the
// Runner actor that drives one rule across every installed package of a worker.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattjoyce/smoker/internal/smoke"
)

// Rule checks one installed package. Check records findings on the Context;
// a returned error (or a panic) is a rule error, never a check result.
type Rule interface {
	Name() string
	Description() string
	DefaultSeverity() smoke.Severity
	Check(ctx context.Context, rc *Context, opts map[string]any) error
}

// Context is handed to one Check call.
type Context struct {
	Rule     string
	Severity smoke.Severity
	Manifest smoke.LintManifest

	mu         sync.Mutex
	violations []smoke.Violation
}

// NewContext builds a rule context for one (rule, installed package) pair.
func NewContext(rule string, severity smoke.Severity, m smoke.LintManifest) *Context {
	return &Context{Rule: rule, Severity: severity, Manifest: m}
}

// InstallPath is the directory of the installed package.
func (c *Context) InstallPath() string {
	return c.Manifest.InstallPath
}

// PkgJSON reads the installed package's package.json.
func (c *Context) PkgJSON() (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(c.InstallPath(), "package.json"))
	if err != nil {
		return nil, fmt.Errorf("read installed package.json: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse installed package.json: %w", err)
	}
	return out, nil
}

// AddViolation records a finding. filepath is relative to the install path or empty.
func (c *Context) AddViolation(message, filepath string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations = append(c.violations, smoke.Violation{
		Message:  message,
		Severity: c.Severity,
		Filepath: filepath,
		Data:     data,
	})
}

// Violations returns a copy of the recorded findings.
func (c *Context) Violations() []smoke.Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]smoke.Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

// Result turns the recorded findings into a check result.
func (c *Context) Result() smoke.CheckResult {
	v := c.Violations()
	if len(v) == 0 {
		return smoke.CheckOK{Rule: c.Rule, Manifest: c.Manifest}
	}
	return smoke.CheckFailed{Rule: c.Rule, Manifest: c.Manifest, Severity: c.Severity, Violations: v}
}

// Configured is a rule paired with its effective severity and options.
type Configured struct {
	Rule     Rule
	Severity smoke.Severity
	Opts     map[string]any
}

// Name returns the rule name.
func (c Configured) Name() string { return c.Rule.Name() }
