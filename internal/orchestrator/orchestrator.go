// Package orchestrator runs one smoke test end to end: it resolves the
// workspaces and package managers, starts reporters, stage distributors and
// one worker per package manager, and turns their output into a report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/smoker/internal/adapter"
	"github.com/mattjoyce/smoker/internal/bus"
	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/log"
	"github.com/mattjoyce/smoker/internal/mailbox"
	"github.com/mattjoyce/smoker/internal/project"
	"github.com/mattjoyce/smoker/internal/report"
	"github.com/mattjoyce/smoker/internal/reporter"
	"github.com/mattjoyce/smoker/internal/rules"
	"github.com/mattjoyce/smoker/internal/scratch"
	"github.com/mattjoyce/smoker/internal/smoke"
	"github.com/mattjoyce/smoker/internal/worker"
)

// DefaultReporterGrace bounds how long reporters may take to drain after the run.
const DefaultReporterGrace = 2 * time.Second

// Options configures a run.
type Options struct {
	// Cwd is the root of the project under test.
	Cwd       string
	Selection project.Selection
	// PkgManagers are raw specs such as "npm" or "pnpm@9".
	PkgManagers []string
	Registry    *adapter.Registry
	Rules       []rules.Configured
	Lint        bool
	Scripts     []string
	// AdditionalDeps are installed next to the packed workspaces.
	AdditionalDeps []string
	Linger         bool
	Loose          bool
	Scratch        scratch.Manager
	Reporters      []reporter.Reporter
	ReporterGrace  time.Duration
	// RunID defaults to a random UUID.
	RunID string
}

type msgKind int

const (
	msgWorkerEvent msgKind = iota
	msgControl
	msgWorkerDone
	msgReporterFailed
)

type message struct {
	kind     msgKind
	ev       events.Event
	control  bus.Control
	output   worker.Output
	reporter *smoke.ReporterError
}

// Orchestrator is the top-level actor of a run.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
	inbox  *mailbox.Mailbox[message]
	state  atomic.Int32
	agg    *smoke.AggregateError

	emitMu sync.Mutex
	seq    int64
	actors []*reporter.Actor

	// Owned by the Run goroutine.
	pkgManagers    []smoke.StaticPkgManagerSpec
	workspaces     []smoke.WorkspaceInfo
	distributors   map[worker.Stage]*bus.Distributor
	workers        []*worker.Worker
	cancelWorkers  context.CancelFunc
	controlPending int
	workerPending  int
	outputs        map[string]worker.Output
	controls       []bus.Control
	lingered       []string
	aborted        bool
	startedAt      time.Time
}

// New creates an idle orchestrator.
func New(opts Options) *Orchestrator {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.ReporterGrace <= 0 {
		opts.ReporterGrace = DefaultReporterGrace
	}
	return &Orchestrator{
		opts:         opts,
		logger:       log.WithRun(opts.RunID).With("component", "orchestrator"),
		inbox:        mailbox.New[message](),
		agg:          smoke.NewAggregateError("smoke run failed"),
		distributors: map[worker.Stage]*bus.Distributor{},
		outputs:      map[string]worker.Output{},
	}
}

// RunID returns the identifier stamped on every event of this run.
func (o *Orchestrator) RunID() string { return o.opts.RunID }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.logger.Debug("orchestrator state", "state", s.String())
}

// Run executes the smoke test. The returned error is non-nil only for
// configuration problems found before anything starts; every other failure
// is recorded in the report with outcome error.
func (o *Orchestrator) Run(ctx context.Context) (*report.Report, error) {
	if o.State() != StateIdle {
		return nil, fmt.Errorf("orchestrator already ran")
	}
	o.startedAt = time.Now()
	o.setState(StateResolving)

	if err := o.resolveWorkspaces(); err != nil {
		o.setState(StateDone)
		return nil, err
	}

	o.spawnReporters(ctx)

	resolved, err := o.opts.Registry.Resolve(o.opts.PkgManagers)
	if err != nil {
		o.agg.Append(err)
		o.logger.Warn("package manager resolution", "error", err)
	}
	for _, r := range resolved {
		o.pkgManagers = append(o.pkgManagers, r.Spec)
	}

	statics := make([]smoke.StaticWorkspace, len(o.workspaces))
	for i, ws := range o.workspaces {
		statics[i] = ws.Static()
	}
	o.emit(events.Event{Type: events.RunBegin, PkgManagers: o.pkgManagers, Workspaces: statics})

	if len(resolved) == 0 {
		if o.agg.Len() == 0 {
			o.agg.Append(errors.New("no package managers to run"))
		}
		return o.finalize(), nil
	}

	o.setState(StateRunning)
	busCtx, cancelBus := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBus()
	o.spawnDistributors(busCtx)
	o.spawnWorkers(ctx, resolved)

	o.loop(ctx)
	return o.finalize(), nil
}

func (o *Orchestrator) resolveWorkspaces() error {
	if o.opts.Registry == nil {
		return &project.ConfigError{Msg: "no adapter registry configured"}
	}
	if o.opts.Scratch == nil {
		return &project.ConfigError{Msg: "no scratch directory manager configured"}
	}
	if len(o.opts.PkgManagers) == 0 {
		return &project.ConfigError{Msg: "no package managers requested"}
	}
	for _, raw := range o.opts.PkgManagers {
		if _, err := smoke.ParsePkgManagerSpec(raw); err != nil {
			return &project.ConfigError{Msg: err.Error()}
		}
	}

	ws, err := project.Resolve(o.opts.Cwd, o.opts.Selection)
	if err != nil {
		var cerr *project.ConfigError
		if errors.As(err, &cerr) {
			return err
		}
		return &project.ConfigError{Msg: err.Error()}
	}
	o.workspaces = ws
	o.logger.Info("resolved workspaces", "count", len(ws))
	return nil
}

func (o *Orchestrator) spawnReporters(ctx context.Context) {
	for _, r := range o.opts.Reporters {
		a := reporter.Spawn(ctx, r, func(err *smoke.ReporterError) {
			o.inbox.Send(message{kind: msgReporterFailed, reporter: err})
		})
		o.actors = append(o.actors, a)
	}
}

func (o *Orchestrator) stageEnabled(s worker.Stage) bool {
	return worker.StageEnabled(s, o.opts.Lint, len(o.opts.Rules), len(o.opts.Scripts))
}

func (o *Orchestrator) spawnDistributors(ctx context.Context) {
	ruleNames := make([]string, len(o.opts.Rules))
	for i, r := range o.opts.Rules {
		ruleNames[i] = r.Name()
	}
	for _, s := range []worker.Stage{worker.StagePack, worker.StageInstall, worker.StageLint, worker.StageScripts} {
		if !o.stageEnabled(s) {
			continue
		}
		d := bus.New(bus.Options{
			Stage:          s,
			PkgManagers:    o.pkgManagers,
			Workspaces:     o.workspaces,
			AdditionalDeps: len(o.opts.AdditionalDeps),
			Rules:          ruleNames,
			Scripts:        o.opts.Scripts,
			Emit:           o.emit,
			Control: func(c bus.Control) {
				o.inbox.Send(message{kind: msgControl, control: c})
			},
		})
		o.distributors[s] = d
		o.controlPending++
		d.Start(ctx)
	}
}

func (o *Orchestrator) spawnWorkers(ctx context.Context, resolved []adapter.Resolved) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancelWorkers = cancel

	for _, r := range resolved {
		w := worker.New(worker.Options{
			Adapter:        r.Adapter,
			PkgManager:     r.Spec,
			Workspaces:     o.workspaces,
			AdditionalDeps: o.opts.AdditionalDeps,
			Scripts:        o.opts.Scripts,
			Rules:          o.opts.Rules,
			Lint:           o.opts.Lint,
			Linger:         o.opts.Linger,
			Loose:          o.opts.Loose,
			Immediate:      true,
			Scratch:        o.opts.Scratch,
			Notify:         o.route,
		})
		o.workers = append(o.workers, w)
		o.workerPending++
		w.Start(workerCtx)
		go func() {
			o.inbox.Send(message{kind: msgWorkerDone, output: w.Output()})
		}()
	}
}

// route sends stage events to their distributor and everything else to the
// orchestrator inbox. Workers call it from several goroutines.
func (o *Orchestrator) route(ev events.Event) {
	if s, ok := worker.StageOf(ev.Type); ok {
		if d, ok := o.distributors[s]; ok {
			d.Publish(ev)
			return
		}
	}
	o.inbox.Send(message{kind: msgWorkerEvent, ev: ev})
}

func (o *Orchestrator) loop(ctx context.Context) {
	recvCtx := ctx
	for o.controlPending > 0 || o.workerPending > 0 {
		msg, ok := o.inbox.Receive(recvCtx)
		if !ok {
			o.abort(fmt.Errorf("run cancelled: %w", smoke.ErrAborted))
			recvCtx = context.WithoutCancel(ctx)
			continue
		}
		o.handle(msg)
	}
	o.cancelWorkers()
}

func (o *Orchestrator) handle(msg message) {
	switch msg.kind {
	case msgWorkerEvent:
		if msg.ev.Type == events.Lingered {
			o.lingered = append(o.lingered, msg.ev.Dir)
		}
		o.emit(msg.ev)
	case msgControl:
		o.controlPending--
		o.controls = append(o.controls, msg.control)
		o.logger.Debug("stage finished", "stage", msg.control.Stage.String(), "failed", msg.control.Failed)
	case msgWorkerDone:
		o.workerPending--
		out := msg.output
		o.outputs[out.PkgManager.String()] = out
		if out.Err != nil && !(o.aborted && worker.IsAborted(out.Err)) {
			o.agg.Append(out.Err)
		}
		o.logger.Info("worker finished", "pkg_manager", out.PkgManager.String(), "state", out.State.String())
	case msgReporterFailed:
		o.agg.Append(msg.reporter)
		o.abort(nil)
	}
}

// abort stops every worker. Reporters keep running so they can render the error.
func (o *Orchestrator) abort(cause error) {
	if cause != nil {
		o.agg.Append(cause)
	}
	if o.aborted {
		return
	}
	o.aborted = true
	o.setState(StateAborting)
	o.logger.Warn("aborting run", "error", o.agg.ErrOrNil())
	for _, w := range o.workers {
		w.Abort()
	}
	o.cancelWorkers()
}

// emit stamps ev and hands it to every reporter. Distributors and the
// orchestrator call it concurrently.
func (o *Orchestrator) emit(ev events.Event) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	o.seq++
	ev.Seq = o.seq
	ev.RunID = o.opts.RunID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	for _, a := range o.actors {
		a.Send(ev)
	}
}

func (o *Orchestrator) results() ([]smoke.LintResult, []smoke.RunScriptResult) {
	lint := []smoke.LintResult{}
	scripts := []smoke.RunScriptResult{}
	for _, pm := range o.pkgManagers {
		out, ok := o.outputs[pm.String()]
		if !ok {
			continue
		}
		lint = append(lint, out.LintResults...)
		scripts = append(scripts, out.ScriptResults...)
	}
	return lint, scripts
}

func (o *Orchestrator) finalize() *report.Report {
	o.setState(StateFinalizing)

	lint, scripts := o.results()
	err := o.agg.ErrOrNil()
	outcome := report.Outcome(lint, scripts, err)

	terminal := events.Event{
		Type:          events.RunOK,
		Outcome:       outcome,
		LintResults:   lint,
		ScriptResults: scripts,
	}
	switch outcome {
	case smoke.OutcomeFailed:
		terminal.Type = events.RunFailed
	case smoke.OutcomeError:
		terminal.Type = events.RunError
	}
	terminal = terminal.WithErr(err)
	o.emit(terminal)
	o.emit(events.Event{Type: events.BeforeExit, Outcome: outcome})

	o.drainReporters()

	statics := make([]smoke.StaticWorkspace, len(o.workspaces))
	for i, ws := range o.workspaces {
		statics[i] = ws.Static()
	}
	r := &report.Report{
		RunID:         o.opts.RunID,
		PkgManagers:   slices.Clone(o.pkgManagers),
		Workspaces:    statics,
		LintResults:   lint,
		ScriptResults: scripts,
		Lingered:      slices.Clone(o.lingered),
		StartedAt:     o.startedAt,
		FinishedAt:    time.Now(),
	}
	// A reporter that overran its grace period turns the outcome into error
	// after the terminal event was already sent.
	r.Err = o.agg.ErrOrNil()
	r.Outcome = report.Outcome(lint, scripts, r.Err)
	if r.Err != nil {
		r.Error = r.Err.Error()
	}

	o.setState(StateDone)
	o.logger.Info("run finished", "outcome", string(r.Outcome))
	return r
}

func (o *Orchestrator) drainReporters() {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.ReporterGrace)
	defer cancel()

	for _, a := range o.actors {
		a.Close()
	}
	for _, a := range o.actors {
		err := a.Wait(ctx)
		if err == nil || o.recorded(err) {
			continue
		}
		o.agg.Append(err)
		o.logger.Warn("reporter did not drain cleanly", "reporter", a.Name(), "error", err)
	}
}

// recorded reports whether err already reached the aggregate through the inbox.
func (o *Orchestrator) recorded(err error) bool {
	return slices.ContainsFunc(o.agg.Errors(), func(e error) bool { return e == err })
}
