// Package smoke holds the value types shared by every stage of a smoke run:
// workspace identity, the manifests handed from one stage to the next, stage
// results, and the staged error family.
//
// Values in this package are created once and never mutated after they are
// handed to another component.
package smoke

import (
	"fmt"
	"strings"
)

// WorkspaceInfo describes one publishable package in the project under test.
type WorkspaceInfo struct {
	Name        string            `json:"name"`
	Version     string            `json:"version,omitempty"`
	LocalPath   string            `json:"local_path"`
	PkgJSONPath string            `json:"pkg_json_path"`
	Private     bool              `json:"private,omitempty"`
	Main        string            `json:"main,omitempty"`
	Scripts     map[string]string `json:"scripts,omitempty"`
	// Manifest is the raw package metadata (package.json) as decoded JSON.
	Manifest map[string]any `json:"-"`
}

// HasScript reports whether the workspace declares a script named name.
func (w WorkspaceInfo) HasScript(name string) bool {
	_, ok := w.Scripts[name]
	return ok
}

// Static returns the serializable projection placed on events.
func (w WorkspaceInfo) Static() StaticWorkspace {
	return StaticWorkspace{Name: w.Name, LocalPath: w.LocalPath}
}

// StaticWorkspace is the event-safe view of a workspace.
type StaticWorkspace struct {
	Name      string `json:"name"`
	LocalPath string `json:"local_path"`
}

// StaticPkgManagerSpec identifies a resolved package manager.
type StaticPkgManagerSpec struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	// Adapter is the name of the adapter plugin that serves this package manager.
	Adapter string `json:"adapter,omitempty"`
}

// String renders the spec as name@version, or just name when unversioned.
func (s StaticPkgManagerSpec) String() string {
	if s.Version == "" {
		return s.Name
	}
	return s.Name + "@" + s.Version
}

// ParsePkgManagerSpec splits "npm@9" into name and version. Scoped names are not valid here.
func ParsePkgManagerSpec(raw string) (StaticPkgManagerSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return StaticPkgManagerSpec{}, fmt.Errorf("package manager spec is empty")
	}
	name, version, _ := strings.Cut(raw, "@")
	name = strings.TrimSpace(name)
	if name == "" {
		return StaticPkgManagerSpec{}, fmt.Errorf("package manager spec %q has no name", raw)
	}
	return StaticPkgManagerSpec{Name: strings.ToLower(name), Version: strings.TrimSpace(version)}, nil
}

// ManifestKind tags what an install manifest installs.
type ManifestKind string

const (
	// ManifestWorkspace installs a packed workspace tarball; lint and scripts follow it.
	ManifestWorkspace ManifestKind = "workspace"
	// ManifestAdditional installs an extra dependency by name; nothing runs against it.
	ManifestAdditional ManifestKind = "additional"
)

// InstallManifest describes what to install and where.
type InstallManifest struct {
	Kind ManifestKind `json:"kind"`
	// Spec is a tarball path for workspace manifests or a package spec for additional deps.
	Spec        string `json:"spec"`
	PkgName     string `json:"pkg_name"`
	Cwd         string `json:"cwd"`
	InstallPath string `json:"install_path,omitempty"`
	// Digest is the blake3 digest of the packed tarball, when known.
	Digest    string         `json:"digest,omitempty"`
	Workspace *WorkspaceInfo `json:"workspace,omitempty"`
}

// IsWorkspace reports whether lint and scripts should run once this manifest is installed.
func (m InstallManifest) IsWorkspace() bool {
	return m.Kind == ManifestWorkspace && m.Workspace != nil
}

// Validate rejects manifests that cannot be routed after install: an
// unknown kind, or a workspace manifest that does not name its workspace.
func (m InstallManifest) Validate() error {
	switch m.Kind {
	case ManifestAdditional:
		return nil
	case ManifestWorkspace:
		if m.Workspace == nil {
			return fmt.Errorf("workspace manifest %q has no workspace", m.PkgName)
		}
		return nil
	default:
		return fmt.Errorf("manifest %q has unknown kind %q", m.PkgName, m.Kind)
	}
}

// Key identifies a manifest within one worker.
func (m InstallManifest) Key() string {
	return string(m.Kind) + ":" + m.PkgName
}

// LintManifest is prepared once a workspace install succeeds.
type LintManifest struct {
	InstallPath string        `json:"install_path"`
	Workspace   WorkspaceInfo `json:"workspace"`
}

// RunScriptManifest is one (installed workspace × script) job.
type RunScriptManifest struct {
	PkgName   string        `json:"pkg_name"`
	Cwd       string        `json:"cwd"`
	Script    string        `json:"script"`
	Workspace WorkspaceInfo `json:"workspace"`
}

// InstallResult is returned by a successful install.
type InstallResult struct {
	Manifest InstallManifest `json:"manifest"`
	Stdout   string          `json:"stdout,omitempty"`
	Stderr   string          `json:"stderr,omitempty"`
}

// ScriptOutput is what an adapter reports for one script invocation.
type ScriptOutput struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	// Missing reports that the installed package has no such script.
	Missing bool `json:"missing,omitempty"`
}

// Outcome is the overall verdict of a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeError   Outcome = "error"
)

// ExitCode maps an outcome to the CLI process exit code.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomeFailed:
		return 1
	default:
		return 2
	}
}
