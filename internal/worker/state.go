package worker

import (
	"fmt"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/smoke"
)

// State is the worker lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStartup
	StateWorking
	StateShutdown
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStartup:
		return "startup"
	case StateWorking:
		return "working"
	case StateShutdown:
		return "shutdown"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stage is one of the four sub-machines of the working state.
type Stage int

const (
	StagePack Stage = iota
	StageInstall
	StageLint
	StageScripts
)

var stages = []Stage{StagePack, StageInstall, StageLint, StageScripts}

func (s Stage) String() string {
	switch s {
	case StagePack:
		return "pack"
	case StageInstall:
		return "install"
	case StageLint:
		return "lint"
	case StageScripts:
		return "script"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageOf maps a worker event type to the stage it belongs to.
func StageOf(t events.Type) (Stage, bool) {
	switch t {
	case events.PkgManagerPackBegin, events.PkgManagerPackOK, events.PkgManagerPackFailed,
		events.PkgPackBegin, events.PkgPackOK, events.PkgPackFailed:
		return StagePack, true
	case events.PkgManagerInstallBegin, events.PkgManagerInstallOK, events.PkgManagerInstallFailed,
		events.PkgInstallBegin, events.PkgInstallOK, events.PkgInstallFailed:
		return StageInstall, true
	case events.PkgManagerLintBegin, events.PkgManagerLintOK, events.PkgManagerLintFailed,
		events.RuleBegin, events.RuleOK, events.RuleFailed, events.RuleError:
		return StageLint, true
	case events.PkgManagerScriptsBegin, events.PkgManagerScriptsOK, events.PkgManagerScriptsFailed,
		events.RunScriptBegin, events.RunScriptOK, events.RunScriptFailed, events.RunScriptError, events.RunScriptSkipped:
		return StageScripts, true
	default:
		return 0, false
	}
}

type stageEvents struct {
	begin, ok, failed events.Type
}

var pkgManagerEvents = map[Stage]stageEvents{
	StagePack:    {events.PkgManagerPackBegin, events.PkgManagerPackOK, events.PkgManagerPackFailed},
	StageInstall: {events.PkgManagerInstallBegin, events.PkgManagerInstallOK, events.PkgManagerInstallFailed},
	StageLint:    {events.PkgManagerLintBegin, events.PkgManagerLintOK, events.PkgManagerLintFailed},
	StageScripts: {events.PkgManagerScriptsBegin, events.PkgManagerScriptsOK, events.PkgManagerScriptsFailed},
}

// IsPkgManagerTerminal reports whether t ends one package manager's part of a stage.
func IsPkgManagerTerminal(t events.Type) bool {
	for _, se := range pkgManagerEvents {
		if t == se.ok || t == se.failed {
			return true
		}
	}
	return false
}

// Output is the final record of one worker.
type Output struct {
	PkgManager     smoke.StaticPkgManagerSpec
	State          State
	Lingered       string
	InstallResults []smoke.InstallResult
	LintResults    []smoke.LintResult
	ScriptResults  []smoke.RunScriptResult
	// Err is the worker's aggregate error, or nil.
	Err error
}
