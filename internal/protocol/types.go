package protocol

import (
	"time"

	"github.com/mattjoyce/smoker/internal/smoke"
)

// Version is the adapter protocol version spoken on stdin/stdout.
const Version = 1

// Adapter commands.
const (
	CommandPack      = "pack"
	CommandInstall   = "install"
	CommandRunScript = "run-script"
	CommandSetup     = "setup"
	CommandTeardown  = "teardown"
)

// Request represents the protocol v1 request envelope sent to adapters via stdin.
type Request struct {
	Protocol   int                        `json:"protocol"`
	Command    string                     `json:"command"`
	PkgManager smoke.StaticPkgManagerSpec `json:"pkg_manager"`
	// TmpDir is the worker's scratch directory.
	TmpDir     string                   `json:"tmp_dir"`
	Workspace  *smoke.WorkspaceInfo     `json:"workspace,omitempty"`       // pack
	Manifest   *smoke.InstallManifest   `json:"install_manifest,omitempty"` // install
	Script     *smoke.RunScriptManifest `json:"script,omitempty"`           // run-script
	Config     map[string]any           `json:"config,omitempty"`
	DeadlineAt time.Time                `json:"deadline_at"`
}

// Response represents the protocol v1 response envelope received from adapters via stdout.
type Response struct {
	Status string `json:"status"` // ok | error
	Error  string `json:"error,omitempty"`

	// pack
	Tarball string `json:"tarball,omitempty"`
	PkgName string `json:"pkg_name,omitempty"`

	// install
	InstallPath string `json:"install_path,omitempty"`

	// run-script
	ExitCode *int   `json:"exit_code,omitempty"`
	Missing  bool   `json:"missing,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`

	Logs []LogEntry `json:"logs,omitempty"`
}

// LogEntry represents a log message from an adapter.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}
