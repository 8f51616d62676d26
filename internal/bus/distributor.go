// Package bus holds the per-stage event distributors. Each distributor knows
// every package manager, workspace and rule taking part in a run, so it can
// put run-wide totals on the raw events workers emit and decide when its
// stage is over.
package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/log"
	"github.com/mattjoyce/smoker/internal/mailbox"
	"github.com/mattjoyce/smoker/internal/smoke"
	"github.com/mattjoyce/smoker/internal/worker"
)

// Control is sent back to the orchestrator once a stage is over.
type Control struct {
	Stage  worker.Stage
	Failed bool
	// FailedPkgManagers lists package managers whose part of the stage failed.
	FailedPkgManagers []smoke.StaticPkgManagerSpec
}

// Options configures a Distributor.
type Options struct {
	Stage          worker.Stage
	PkgManagers    []smoke.StaticPkgManagerSpec
	Workspaces     []smoke.WorkspaceInfo
	AdditionalDeps int
	Rules          []string
	Scripts        []string
	// Emit republishes an enriched event to the run stream.
	Emit func(events.Event)
	// Control receives the single terminal stage control message.
	Control func(Control)
}

type aggregateEvents struct {
	begin, ok, failed events.Type
}

var stageEvents = map[worker.Stage]aggregateEvents{
	worker.StagePack:    {events.PackBegin, events.PackOK, events.PackFailed},
	worker.StageInstall: {events.InstallBegin, events.InstallOK, events.InstallFailed},
	worker.StageLint:    {events.LintBegin, events.LintOK, events.LintFailed},
	worker.StageScripts: {events.ScriptsBegin, events.ScriptsOK, events.ScriptsFailed},
}

// unitDone lists the events that finish one unit of work, and whether the unit failed.
var unitDone = map[events.Type]bool{
	events.PkgPackOK:        false,
	events.PkgPackFailed:    true,
	events.PkgInstallOK:     false,
	events.PkgInstallFailed: true,
	events.RuleOK:           false,
	events.RuleFailed:       true,
	events.RuleError:        true,
	events.RunScriptOK:      false,
	events.RunScriptFailed:  true,
	events.RunScriptError:   true,
	events.RunScriptSkipped: false,
}

// Distributor is the actor for one stage.
type Distributor struct {
	opts   Options
	logger *slog.Logger
	inbox  *mailbox.Mailbox[events.Event]
	done   chan struct{}

	// Owned by the loop goroutine.
	totals   events.Totals
	begun    bool
	pmDone   map[string]bool
	pmFailed []smoke.StaticPkgManagerSpec
	lint     []smoke.LintResult
	scripts  []smoke.RunScriptResult
}

// New creates a distributor for one stage.
func New(opts Options) *Distributor {
	if opts.Emit == nil {
		opts.Emit = func(events.Event) {}
	}
	if opts.Control == nil {
		opts.Control = func(Control) {}
	}
	d := &Distributor{
		opts:   opts,
		logger: log.WithComponent("bus").With("stage", opts.Stage.String()),
		inbox:  mailbox.New[events.Event](),
		done:   make(chan struct{}),
		pmDone: map[string]bool{},
	}
	d.totals = events.Totals{
		PkgManagers: len(opts.PkgManagers),
		Workspaces:  len(opts.Workspaces),
		Rules:       len(opts.Rules),
		Scripts:     len(opts.Scripts),
		Jobs:        d.jobs(),
	}
	return d
}

func (d *Distributor) jobs() int {
	pms, ws := len(d.opts.PkgManagers), len(d.opts.Workspaces)
	switch d.opts.Stage {
	case worker.StagePack:
		return pms * ws
	case worker.StageInstall:
		return pms * (ws + d.opts.AdditionalDeps)
	case worker.StageLint:
		return pms * ws * len(d.opts.Rules)
	case worker.StageScripts:
		return pms * ws * len(d.opts.Scripts)
	default:
		return 0
	}
}

// Stage returns the stage this distributor serves.
func (d *Distributor) Stage() worker.Stage { return d.opts.Stage }

// Start launches the distributor loop. Cancelling ctx stops it without a terminal event.
func (d *Distributor) Start(ctx context.Context) {
	go d.loop(ctx)
}

// Publish hands a raw worker event to the distributor.
func (d *Distributor) Publish(ev events.Event) {
	d.inbox.Send(ev)
}

// Done is closed when the distributor stops.
func (d *Distributor) Done() <-chan struct{} { return d.done }

func (d *Distributor) loop(ctx context.Context) {
	defer close(d.done)
	defer d.inbox.Close()

	if len(d.opts.PkgManagers) == 0 {
		d.complete()
		return
	}

	for {
		ev, ok := d.inbox.Receive(ctx)
		if !ok {
			d.logger.Debug("distributor stopped before stage completed")
			return
		}
		if d.handle(ev) {
			return
		}
	}
}

// handle republishes one event and reports whether the stage is over.
func (d *Distributor) handle(ev events.Event) bool {
	if !d.begun {
		d.begun = true
		d.opts.Emit(events.Event{Type: stageEvents[d.opts.Stage].begin, At: time.Now(), Totals: d.totals})
	}

	if failed, ok := unitDone[ev.Type]; ok {
		d.totals.Completed++
		if failed {
			d.totals.Failed++
		}
	}

	terminal := worker.IsPkgManagerTerminal(ev.Type)
	if terminal && ev.PkgManager != nil {
		key := ev.PkgManager.String()
		if !d.pmDone[key] {
			d.pmDone[key] = true
			d.totals.PkgManagersDone++
			if ev.Type == stageFailedType(d.opts.Stage) {
				d.pmFailed = append(d.pmFailed, *ev.PkgManager)
			}
			d.lint = append(d.lint, ev.LintResults...)
			d.scripts = append(d.scripts, ev.ScriptResults...)
		}
	}

	ev.Totals = d.totals
	d.opts.Emit(ev)

	if terminal && d.totals.PkgManagersDone == len(d.opts.PkgManagers) {
		d.complete()
		return true
	}
	return false
}

func stageFailedType(s worker.Stage) events.Type {
	switch s {
	case worker.StagePack:
		return events.PkgManagerPackFailed
	case worker.StageInstall:
		return events.PkgManagerInstallFailed
	case worker.StageLint:
		return events.PkgManagerLintFailed
	default:
		return events.PkgManagerScriptsFailed
	}
}

func (d *Distributor) complete() {
	failed := len(d.pmFailed) > 0
	t := stageEvents[d.opts.Stage].ok
	if failed {
		t = stageEvents[d.opts.Stage].failed
	}
	d.opts.Emit(events.Event{
		Type:          t,
		At:            time.Now(),
		Totals:        d.totals,
		LintResults:   d.lint,
		ScriptResults: d.scripts,
	})
	d.logger.Debug("stage complete", "failed", failed, "completed", d.totals.Completed, "jobs", d.totals.Jobs)
	d.opts.Control(Control{Stage: d.opts.Stage, Failed: failed, FailedPkgManagers: d.pmFailed})
}
