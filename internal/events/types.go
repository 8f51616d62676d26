package events

import (
	"time"

	"github.com/mattjoyce/smoker/internal/smoke"
)

// Type names an event in the run stream.
type Type string

const (
	RunBegin   Type = "run.begin"
	RunOK      Type = "run.ok"
	RunFailed  Type = "run.failed"
	RunError   Type = "run.error"
	Lingered   Type = "run.lingered"
	BeforeExit Type = "run.before-exit"

	PackBegin            Type = "pack.begin"
	PackOK               Type = "pack.ok"
	PackFailed           Type = "pack.failed"
	PkgManagerPackBegin  Type = "pack.pkg-manager.begin"
	PkgManagerPackOK     Type = "pack.pkg-manager.ok"
	PkgManagerPackFailed Type = "pack.pkg-manager.failed"
	PkgPackBegin         Type = "pack.pkg.begin"
	PkgPackOK            Type = "pack.pkg.ok"
	PkgPackFailed        Type = "pack.pkg.failed"

	InstallBegin            Type = "install.begin"
	InstallOK               Type = "install.ok"
	InstallFailed           Type = "install.failed"
	PkgManagerInstallBegin  Type = "install.pkg-manager.begin"
	PkgManagerInstallOK     Type = "install.pkg-manager.ok"
	PkgManagerInstallFailed Type = "install.pkg-manager.failed"
	PkgInstallBegin         Type = "install.pkg.begin"
	PkgInstallOK            Type = "install.pkg.ok"
	PkgInstallFailed        Type = "install.pkg.failed"

	LintBegin            Type = "lint.begin"
	LintOK               Type = "lint.ok"
	LintFailed           Type = "lint.failed"
	PkgManagerLintBegin  Type = "lint.pkg-manager.begin"
	PkgManagerLintOK     Type = "lint.pkg-manager.ok"
	PkgManagerLintFailed Type = "lint.pkg-manager.failed"
	RuleBegin            Type = "lint.rule.begin"
	RuleOK               Type = "lint.rule.ok"
	RuleFailed           Type = "lint.rule.failed"
	RuleError            Type = "lint.rule.error"

	ScriptsBegin            Type = "script.begin"
	ScriptsOK               Type = "script.ok"
	ScriptsFailed           Type = "script.failed"
	PkgManagerScriptsBegin  Type = "script.pkg-manager.begin"
	PkgManagerScriptsOK     Type = "script.pkg-manager.ok"
	PkgManagerScriptsFailed Type = "script.pkg-manager.failed"
	RunScriptBegin          Type = "script.run.begin"
	RunScriptOK             Type = "script.run.ok"
	RunScriptFailed         Type = "script.run.failed"
	RunScriptError          Type = "script.run.error"
	RunScriptSkipped        Type = "script.run.skipped"
)

// Totals are the aggregate counters bus distributors attach to stage events.
type Totals struct {
	PkgManagers int `json:"pkg_managers,omitempty"`
	Workspaces  int `json:"workspaces,omitempty"`
	Rules       int `json:"rules,omitempty"`
	Scripts     int `json:"scripts,omitempty"`
	// Jobs is the total number of units in the stage across all package managers.
	Jobs int `json:"jobs,omitempty"`
	// Completed counts finished units so far, across all package managers.
	Completed int `json:"completed,omitempty"`
	// PkgManagersDone counts package managers that finished this stage.
	PkgManagersDone int `json:"pkg_managers_done,omitempty"`
	Failed          int `json:"failed,omitempty"`
}

// Event is one entry in the append-only run stream reporters consume.
type Event struct {
	// Seq is assigned by the run emitter; reporters see strictly increasing values.
	Seq   int64     `json:"seq"`
	RunID string    `json:"run_id"`
	Type  Type      `json:"type"`
	At    time.Time `json:"at"`

	PkgManager *smoke.StaticPkgManagerSpec `json:"pkg_manager,omitempty"`
	Workspace  *smoke.StaticWorkspace      `json:"workspace,omitempty"`
	Rule       string                      `json:"rule,omitempty"`
	Totals     Totals                      `json:"totals"`

	// PkgManagers and Workspaces are set on run.begin.
	PkgManagers []smoke.StaticPkgManagerSpec `json:"pkg_managers,omitempty"`
	Workspaces  []smoke.StaticWorkspace      `json:"workspaces,omitempty"`

	InstallManifest *smoke.InstallManifest  `json:"install_manifest,omitempty"`
	ScriptResult    *smoke.RunScriptResult  `json:"script_result,omitempty"`
	CheckResults    []smoke.CheckResult     `json:"-"`
	LintResults     []smoke.LintResult      `json:"lint_results,omitempty"`
	ScriptResults   []smoke.RunScriptResult `json:"script_results,omitempty"`
	Outcome         smoke.Outcome           `json:"outcome,omitempty"`
	// Dir is the lingered scratch directory for Lingered events.
	Dir string `json:"dir,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// WithErr sets both the typed error and its text.
func (e Event) WithErr(err error) Event {
	e.Err = err
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsTerminal reports whether the event ends a run.
func (e Event) IsTerminal() bool {
	return e.Type == RunOK || e.Type == RunFailed || e.Type == RunError
}
