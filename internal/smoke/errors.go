package smoke

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// PackError reports a failed pack of one workspace.
type PackError struct {
	PkgManager StaticPkgManagerSpec
	Workspace  StaticWorkspace
	Err        error
}

func (e *PackError) Error() string {
	return fmt.Sprintf("%s: pack %q: %v", e.PkgManager, e.Workspace.Name, e.Err)
}

func (e *PackError) Unwrap() error { return e.Err }

// InstallError reports a failed install of one manifest.
type InstallError struct {
	PkgManager StaticPkgManagerSpec
	Manifest   InstallManifest
	Err        error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("%s: install %q: %v", e.PkgManager, e.Manifest.PkgName, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// RunScriptError reports that a script could not be invoked at all.
type RunScriptError struct {
	PkgManager StaticPkgManagerSpec
	Manifest   RunScriptManifest
	Err        error
}

func (e *RunScriptError) Error() string {
	return fmt.Sprintf("%s: run script %q in %q: %v", e.PkgManager, e.Manifest.Script, e.Manifest.PkgName, e.Err)
}

func (e *RunScriptError) Unwrap() error { return e.Err }

// ScriptFailedError reports a script that ran and exited nonzero.
type ScriptFailedError struct {
	PkgManager StaticPkgManagerSpec
	Manifest   RunScriptManifest
	ExitCode   int
}

func (e *ScriptFailedError) Error() string {
	return fmt.Sprintf("%s: script %q in %q exited with code %d", e.PkgManager, e.Manifest.Script, e.Manifest.PkgName, e.ExitCode)
}

// UnknownScriptError reports a script the package does not declare.
type UnknownScriptError struct {
	PkgManager StaticPkgManagerSpec
	Manifest   RunScriptManifest
}

func (e *UnknownScriptError) Error() string {
	return fmt.Sprintf("%s: script %q not found in %q", e.PkgManager, e.Manifest.Script, e.Manifest.PkgName)
}

// RuleError reports that a rule implementation itself failed.
type RuleError struct {
	Rule       string
	PkgManager StaticPkgManagerSpec
	Manifest   LintManifest
	Err        error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: rule %q on %q: %v", e.PkgManager, e.Rule, e.Manifest.Workspace.Name, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// Hook names a lifecycle hook.
type Hook string

const (
	HookSetup    Hook = "setup"
	HookTeardown Hook = "teardown"
)

// LifecycleError reports a failed adapter setup or teardown hook.
type LifecycleError struct {
	Hook       Hook
	PkgManager StaticPkgManagerSpec
	Err        error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: %s hook: %v", e.PkgManager, e.Hook, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// TempDirError reports that a worker's scratch directory could not be created.
type TempDirError struct {
	PkgManager StaticPkgManagerSpec
	Err        error
}

func (e *TempDirError) Error() string {
	return fmt.Sprintf("%s: create temp dir: %v", e.PkgManager, e.Err)
}

func (e *TempDirError) Unwrap() error { return e.Err }

// CleanupError reports that a worker's scratch directory could not be pruned.
type CleanupError struct {
	PkgManager StaticPkgManagerSpec
	Dir        string
	Err        error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("%s: prune %s: %v", e.PkgManager, e.Dir, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// ReporterError reports a reporter that crashed or overran its drain grace period.
type ReporterError struct {
	Reporter string
	Err      error
}

func (e *ReporterError) Error() string {
	return fmt.Sprintf("reporter %q: %v", e.Reporter, e.Err)
}

func (e *ReporterError) Unwrap() error { return e.Err }

// UnsupportedPkgManagerError reports requested package managers no adapter serves.
type UnsupportedPkgManagerError struct {
	Requested []string
	Supported []string
}

func (e *UnsupportedPkgManagerError) Error() string {
	supported := "none"
	if len(e.Supported) > 0 {
		supported = strings.Join(e.Supported, ", ")
	}
	return fmt.Sprintf("unsupported package manager(s): %s (supported: %s)", strings.Join(e.Requested, ", "), supported)
}

// ErrAborted marks work that stopped because its owner aborted.
var ErrAborted = errors.New("aborted")

// AggregateError holds every fatal error of a run or a worker.
// It only grows; constituents are never replaced.
type AggregateError struct {
	Msg string

	mu   sync.Mutex
	errs []error
}

// NewAggregateError returns an empty aggregate with a summary message.
func NewAggregateError(msg string) *AggregateError {
	return &AggregateError{Msg: msg}
}

// Append absorbs err. Nested aggregates are flattened.
func (e *AggregateError) Append(err error) {
	if err == nil {
		return
	}
	var nested *AggregateError
	if errors.As(err, &nested) && nested != e {
		for _, inner := range nested.Errors() {
			e.Append(inner)
		}
		return
	}
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}

// Errors returns a copy of the constituents in append order.
func (e *AggregateError) Errors() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]error, len(e.errs))
	copy(out, e.errs)
	return out
}

// Len returns the number of constituents.
func (e *AggregateError) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

// ErrOrNil returns nil when nothing was absorbed.
func (e *AggregateError) ErrOrNil() error {
	if e == nil || e.Len() == 0 {
		return nil
	}
	return e
}

func (e *AggregateError) Error() string {
	errs := e.Errors()
	var b strings.Builder
	b.WriteString(e.Msg)
	fmt.Fprintf(&b, " (%d error(s))", len(errs))
	for _, err := range errs {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *AggregateError) Unwrap() []error { return e.Errors() }
