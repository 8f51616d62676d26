// Package worker drives one package manager through pack, install, lint and
// scripts for a fixed set of workspaces, inside its own scratch directory.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/smoker/internal/adapter"
	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/log"
	"github.com/mattjoyce/smoker/internal/mailbox"
	"github.com/mattjoyce/smoker/internal/rules"
	"github.com/mattjoyce/smoker/internal/scratch"
	"github.com/mattjoyce/smoker/internal/smoke"
)

// Options configures a Worker.
type Options struct {
	Adapter    adapter.Adapter
	PkgManager smoke.StaticPkgManagerSpec
	Workspaces []smoke.WorkspaceInfo
	// AdditionalDeps are installed by spec next to the packed workspaces.
	AdditionalDeps []string
	Scripts        []string
	Rules          []rules.Configured
	Lint           bool
	Linger         bool
	// Loose turns a missing script into a skipped result instead of a failure.
	Loose bool
	// Immediate starts the pipeline without waiting for Begin.
	Immediate bool
	// Persistent keeps the worker in working until Halt is received.
	Persistent bool
	Scratch    scratch.Manager
	// Notify receives raw worker events. It may be called from several
	// goroutines and must not block.
	Notify func(events.Event)
}

type msgKind int

const (
	msgBegin msgKind = iota
	msgHalt
	msgAbort
	msgPacked
	msgInstalled
	msgScriptDone
	msgLintNotice
	msgRunnerDone
)

type message struct {
	kind      msgKind
	manifests []smoke.InstallManifest
	install   smoke.InstallResult
	script    smoke.RunScriptResult
	notice    rules.Notice
	err       error
}

// Worker is the per-package-manager actor.
type Worker struct {
	opts   Options
	logger *slog.Logger
	inbox  *mailbox.Mailbox[message]
	done   chan struct{}
	state  atomic.Int32
	agg    *smoke.AggregateError

	emitMu sync.Mutex

	// Owned by the run goroutine.
	dir         scratch.Dir
	setupDone   bool
	halted      bool
	aborted     bool
	fatal       bool
	lingered    string
	stageBegun  map[Stage]bool
	stageEnded  map[Stage]bool
	manifests   []smoke.InstallManifest
	installs    []smoke.InstallResult
	scriptJobs  int
	scripts     []smoke.RunScriptResult
	runners     []*rules.Runner
	runnersDone int
	ruleErrors  int
	lint        map[string]*smoke.LintResult
	lintOrder   []string
	out         Output
}

// New creates an idle worker.
func New(opts Options) *Worker {
	if opts.Notify == nil {
		opts.Notify = func(events.Event) {}
	}
	return &Worker{
		opts:       opts,
		logger:     log.WithPkgManager(opts.PkgManager.String()),
		inbox:      mailbox.New[message](),
		done:       make(chan struct{}),
		agg:        smoke.NewAggregateError(fmt.Sprintf("%s failed", opts.PkgManager)),
		stageBegun: map[Stage]bool{},
		stageEnded: map[Stage]bool{},
		lint:       map[string]*smoke.LintResult{},
	}
}

// PkgManager returns the spec this worker serves.
func (w *Worker) PkgManager() smoke.StaticPkgManagerSpec { return w.opts.PkgManager }

// Start launches the worker. Cancelling ctx aborts it.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Begin releases a worker waiting in idle.
func (w *Worker) Begin() { w.inbox.Send(message{kind: msgBegin}) }

// Halt lets a persistent worker shut down once its work completes.
func (w *Worker) Halt() { w.inbox.Send(message{kind: msgHalt}) }

// Abort stops all in-flight work and moves the worker to shutdown.
func (w *Worker) Abort() { w.inbox.Send(message{kind: msgAbort}) }

// Done is closed once the worker reaches done or errored.
func (w *Worker) Done() <-chan struct{} { return w.done }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Output returns the final record, blocking until the worker finishes.
func (w *Worker) Output() Output {
	<-w.done
	return w.out
}

// StageEnabled reports whether the worker will run stage s.
func (w *Worker) StageEnabled(s Stage) bool {
	return StageEnabled(s, w.opts.Lint, len(w.opts.Rules), len(w.opts.Scripts))
}

// StageEnabled reports whether a worker configured this way runs stage s.
func StageEnabled(s Stage, lint bool, ruleCount, scriptCount int) bool {
	switch s {
	case StageLint:
		return lint && ruleCount > 0
	case StageScripts:
		return scriptCount > 0
	default:
		return true
	}
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.logger.Debug("worker state", "state", s.String())
}

func (w *Worker) emit(ev events.Event) {
	spec := w.opts.PkgManager
	ev.PkgManager = &spec
	ev.At = time.Now()
	w.emitMu.Lock()
	w.opts.Notify(ev)
	w.emitMu.Unlock()
}

func (w *Worker) run(ctx context.Context) {
	defer w.finish()

	if !w.opts.Immediate && !w.awaitBegin(ctx) {
		w.agg.Append(smoke.ErrAborted)
		w.failStages(smoke.ErrAborted)
		return
	}

	if !w.startup(ctx) {
		w.failStages(w.agg)
		w.shutdown(ctx)
		return
	}

	w.drainControl()
	if w.aborted {
		w.failStages(w.agg)
		w.shutdown(ctx)
		return
	}

	w.work(ctx)
	w.shutdown(ctx)
}

func (w *Worker) awaitBegin(ctx context.Context) bool {
	for {
		msg, ok := w.inbox.Receive(ctx)
		if !ok {
			return false
		}
		switch msg.kind {
		case msgBegin:
			return true
		case msgAbort:
			return false
		case msgHalt:
			w.halted = true
		}
	}
}

func (w *Worker) lifecycleContext() adapter.LifecycleContext {
	return adapter.LifecycleContext{
		PkgManager: w.opts.PkgManager,
		TmpDir:     w.dir.Path,
		Workspaces: w.opts.Workspaces,
	}
}

func (w *Worker) startup(ctx context.Context) bool {
	w.setState(StateStartup)

	dir, err := w.opts.Scratch.Create(ctx, w.opts.PkgManager.String())
	if err != nil {
		w.agg.Append(&smoke.TempDirError{PkgManager: w.opts.PkgManager, Err: err})
		return false
	}
	w.dir = dir
	w.logger.Debug("created scratch dir", "dir", dir.Path)

	if hook, ok := w.opts.Adapter.(adapter.SetupHook); ok {
		if err := hook.Setup(ctx, w.lifecycleContext()); err != nil {
			if ctx.Err() != nil {
				w.agg.Append(smoke.ErrAborted)
			} else {
				w.agg.Append(&smoke.LifecycleError{Hook: smoke.HookSetup, PkgManager: w.opts.PkgManager, Err: err})
			}
			return false
		}
	}
	w.setupDone = true
	return true
}

// drainControl applies Abort and Halt requests that arrived during startup.
func (w *Worker) drainControl() {
	for {
		msg, ok := w.inbox.TryReceive()
		if !ok {
			return
		}
		switch msg.kind {
		case msgAbort:
			w.abort()
		case msgHalt:
			w.halted = true
		}
	}
}

func (w *Worker) work(ctx context.Context) {
	w.setState(StateWorking)

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.startRunners(workCtx)
	w.beginStage(StagePack)
	go w.pack(workCtx)

	for !w.workComplete() || (w.opts.Persistent && !w.halted) {
		msg, ok := w.inbox.Receive(ctx)
		if !ok {
			w.abort()
			break
		}
		w.handle(workCtx, msg)
		if w.fatal || w.aborted {
			break
		}
	}

	cancel()
	for _, r := range w.runners {
		r.Abort()
	}
	if w.fatal || w.aborted {
		w.failStages(w.agg)
	}
}

func (w *Worker) abort() {
	if w.aborted {
		return
	}
	w.aborted = true
	w.agg.Append(smoke.ErrAborted)
	w.logger.Info("worker aborted")
}

func (w *Worker) fail(err error) {
	w.fatal = true
	w.agg.Append(err)
	w.logger.Error("worker failed", "error", err)
}

func (w *Worker) handle(ctx context.Context, msg message) {
	switch msg.kind {
	case msgBegin:
	case msgHalt:
		w.halted = true
	case msgAbort:
		w.abort()
	case msgPacked:
		w.onPacked(ctx, msg)
	case msgInstalled:
		w.onInstalled(ctx, msg)
	case msgScriptDone:
		w.onScriptDone(msg.script)
	case msgLintNotice:
		w.onLintNotice(msg.notice)
	case msgRunnerDone:
		w.runnersDone++
		if w.runnersDone == len(w.runners) {
			w.endLint()
		}
	}
}

func (w *Worker) workComplete() bool {
	if !w.stageEnded[StagePack] || !w.stageEnded[StageInstall] {
		return false
	}
	for _, s := range []Stage{StageLint, StageScripts} {
		if w.StageEnabled(s) && !w.stageEnded[s] {
			return false
		}
	}
	return true
}

func (w *Worker) beginStage(s Stage) {
	if w.stageBegun[s] {
		return
	}
	w.stageBegun[s] = true
	w.emit(events.Event{Type: pkgManagerEvents[s].begin})
}

func (w *Worker) endStage(s Stage, failed bool, fill func(*events.Event)) {
	if w.stageEnded[s] {
		return
	}
	w.stageEnded[s] = true
	ev := events.Event{Type: pkgManagerEvents[s].ok}
	if failed {
		ev.Type = pkgManagerEvents[s].failed
	}
	if fill != nil {
		fill(&ev)
	}
	w.emit(ev)
}

// failStages closes every enabled stage that has not ended, so each stage
// sees exactly one terminal event from this worker.
func (w *Worker) failStages(err error) {
	for _, s := range stages {
		if !w.StageEnabled(s) {
			continue
		}
		w.endStage(s, true, func(ev *events.Event) {
			*ev = ev.WithErr(err)
			switch s {
			case StageLint:
				ev.LintResults = w.lintResults()
			case StageScripts:
				ev.ScriptResults = cloneScripts(w.scripts)
			}
		})
	}
}

// pack fans out one pack per workspace. Any failure cancels the rest.
func (w *Worker) pack(ctx context.Context) {
	manifests := make([]smoke.InstallManifest, len(w.opts.Workspaces))
	g, gctx := errgroup.WithContext(ctx)

	for i, ws := range w.opts.Workspaces {
		g.Go(func() error {
			static := ws.Static()
			w.emit(events.Event{Type: events.PkgPackBegin, Workspace: &static})

			m, err := w.opts.Adapter.Pack(gctx, adapter.PackContext{
				PkgManager: w.opts.PkgManager,
				TmpDir:     w.dir.Path,
				Workspace:  ws,
			})
			if err != nil {
				perr := &smoke.PackError{PkgManager: w.opts.PkgManager, Workspace: static, Err: err}
				if gctx.Err() == nil {
					log.WithWorkspace(w.opts.PkgManager.String(), ws.Name).Warn("pack failed", "error", err)
					w.emit(events.Event{Type: events.PkgPackFailed, Workspace: &static}.WithErr(perr))
				}
				return perr
			}
			switch m.Kind {
			case "":
				m.Kind = smoke.ManifestWorkspace
			case smoke.ManifestAdditional:
				perr := &smoke.PackError{
					PkgManager: w.opts.PkgManager,
					Workspace:  static,
					Err:        errors.New("adapter returned an additional-dependency manifest for a workspace"),
				}
				w.emit(events.Event{Type: events.PkgPackFailed, Workspace: &static}.WithErr(perr))
				return perr
			}
			if m.Workspace == nil {
				m.Workspace = &ws
			}
			manifests[i] = m
			w.emit(events.Event{Type: events.PkgPackOK, Workspace: &static, InstallManifest: &m})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		w.inbox.Send(message{kind: msgPacked, err: err})
		return
	}

	for _, dep := range w.opts.AdditionalDeps {
		name := DepName(dep)
		manifests = append(manifests, smoke.InstallManifest{
			Kind:        smoke.ManifestAdditional,
			Spec:        dep,
			PkgName:     name,
			Cwd:         w.dir.Path,
			InstallPath: filepath.Join(w.dir.Path, "node_modules", name),
		})
	}
	w.inbox.Send(message{kind: msgPacked, manifests: manifests})
}

func (w *Worker) onPacked(ctx context.Context, msg message) {
	if msg.err != nil {
		if ctx.Err() != nil {
			return
		}
		w.fail(msg.err)
		return
	}

	want := len(w.opts.Workspaces) + len(w.opts.AdditionalDeps)
	if len(msg.manifests) != want {
		w.fail(fmt.Errorf("%s: packing produced %d manifests, want %d", w.opts.PkgManager, len(msg.manifests), want))
		return
	}
	w.manifests = msg.manifests
	w.endStage(StagePack, false, func(ev *events.Event) {
		ev.Totals.Completed = len(w.opts.Workspaces)
	})

	w.beginStage(StageInstall)
	if len(w.manifests) == 0 {
		w.endStage(StageInstall, false, nil)
		w.endEmptyScripts()
		return
	}
	go w.install(ctx, w.manifests)
}

// endEmptyScripts closes the scripts stage when no script job was requested.
func (w *Worker) endEmptyScripts() {
	if w.StageEnabled(StageScripts) && w.scriptJobs == 0 {
		w.endStage(StageScripts, false, func(ev *events.Event) {
			ev.ScriptResults = []smoke.RunScriptResult{}
		})
	}
}

// install runs one install at a time; shared package manager caches make
// concurrent installs unsafe.
func (w *Worker) install(ctx context.Context, manifests []smoke.InstallManifest) {
	for _, m := range manifests {
		if ctx.Err() != nil {
			return
		}
		var static *smoke.StaticWorkspace
		if m.Workspace != nil {
			s := m.Workspace.Static()
			static = &s
		}
		if err := m.Validate(); err != nil {
			ierr := &smoke.InstallError{PkgManager: w.opts.PkgManager, Manifest: m, Err: err}
			w.emit(events.Event{Type: events.PkgInstallFailed, Workspace: static, InstallManifest: &m}.WithErr(ierr))
			w.inbox.Send(message{kind: msgInstalled, err: ierr})
			return
		}
		w.emit(events.Event{Type: events.PkgInstallBegin, Workspace: static, InstallManifest: &m})

		res, err := w.opts.Adapter.Install(ctx, adapter.InstallContext{
			PkgManager: w.opts.PkgManager,
			TmpDir:     w.dir.Path,
			Manifest:   m,
		})
		if err != nil {
			ierr := &smoke.InstallError{PkgManager: w.opts.PkgManager, Manifest: m, Err: err}
			if ctx.Err() == nil {
				w.emit(events.Event{Type: events.PkgInstallFailed, Workspace: static, InstallManifest: &m}.WithErr(ierr))
			}
			w.inbox.Send(message{kind: msgInstalled, err: ierr})
			return
		}
		res.Manifest = installedManifest(m, res.Manifest)
		installed := res.Manifest
		w.emit(events.Event{Type: events.PkgInstallOK, Workspace: static, InstallManifest: &installed})
		w.inbox.Send(message{kind: msgInstalled, install: res})
	}
}

func (w *Worker) onInstalled(ctx context.Context, msg message) {
	if msg.err != nil {
		if ctx.Err() != nil {
			return
		}
		w.fail(msg.err)
		return
	}

	w.installs = append(w.installs, msg.install)
	m := msg.install.Manifest
	if m.IsWorkspace() {
		w.requestLint(m)
		w.requestScripts(ctx, m)
	}

	if len(w.installs) == len(w.manifests) {
		w.endStage(StageInstall, false, func(ev *events.Event) {
			ev.Totals.Completed = len(w.installs)
		})
		w.endEmptyScripts()
	}
}

// installedManifest keeps the worker's classification of m and only takes
// the resolved name and location from what the adapter reported.
func installedManifest(m, got smoke.InstallManifest) smoke.InstallManifest {
	out := m
	if got.PkgName != "" {
		out.PkgName = got.PkgName
	}
	if got.InstallPath != "" {
		out.InstallPath = got.InstallPath
	}
	return out
}

func (w *Worker) startRunners(ctx context.Context) {
	if !w.StageEnabled(StageLint) {
		return
	}
	for _, rc := range w.opts.Rules {
		r := rules.NewRunner(rules.RunnerOptions{
			Rule:       rc,
			PkgManager: w.opts.PkgManager,
			Plan:       len(w.opts.Workspaces),
			Notify: func(n rules.Notice) {
				w.inbox.Send(message{kind: msgLintNotice, notice: n})
			},
		})
		r.Start(ctx)
		w.runners = append(w.runners, r)
		go func() {
			<-r.Done()
			w.inbox.Send(message{kind: msgRunnerDone})
		}()
	}
}

func (w *Worker) requestLint(m smoke.InstallManifest) {
	if !w.StageEnabled(StageLint) {
		return
	}
	w.beginStage(StageLint)
	lm := smoke.LintManifest{InstallPath: m.InstallPath, Workspace: *m.Workspace}
	if _, ok := w.lint[lm.Workspace.Name]; !ok {
		w.lint[lm.Workspace.Name] = &smoke.LintResult{
			PkgManager: w.opts.PkgManager,
			Workspace:  lm.Workspace.Static(),
			Passed:     []smoke.CheckOK{},
			Failed:     []smoke.CheckFailed{},
		}
		w.lintOrder = append(w.lintOrder, lm.Workspace.Name)
	}
	for _, r := range w.runners {
		r.Check(lm)
	}
}

func (w *Worker) onLintNotice(n rules.Notice) {
	static := n.Manifest.Workspace.Static()
	switch n.Kind {
	case rules.NoticeBegin:
		w.emit(events.Event{Type: events.RuleBegin, Rule: n.Rule, Workspace: &static})
	case rules.NoticeResult:
		if lr, ok := w.lint[n.Manifest.Workspace.Name]; ok {
			lr.Add(n.Result)
		}
		t := events.RuleOK
		if _, failed := n.Result.(smoke.CheckFailed); failed {
			t = events.RuleFailed
		}
		w.emit(events.Event{Type: t, Rule: n.Rule, Workspace: &static, CheckResults: []smoke.CheckResult{n.Result}})
	case rules.NoticeError:
		// Rule errors escalate to the aggregate but do not stop sibling rules.
		w.ruleErrors++
		w.agg.Append(n.Err)
		w.emit(events.Event{Type: events.RuleError, Rule: n.Rule, Workspace: &static}.WithErr(n.Err))
	}
}

func (w *Worker) endLint() {
	results := w.lintResults()
	failed := w.ruleErrors > 0
	for _, lr := range results {
		if lr.HasErrors() {
			failed = true
		}
	}
	w.endStage(StageLint, failed, func(ev *events.Event) {
		ev.LintResults = results
		if w.ruleErrors > 0 {
			*ev = ev.WithErr(fmt.Errorf("%d rule error(s)", w.ruleErrors))
		}
	})
}

func (w *Worker) lintResults() []smoke.LintResult {
	out := make([]smoke.LintResult, 0, len(w.lintOrder))
	for _, name := range w.lintOrder {
		lr := *w.lint[name]
		lr.Passed = append([]smoke.CheckOK(nil), lr.Passed...)
		lr.Failed = append([]smoke.CheckFailed(nil), lr.Failed...)
		out = append(out, lr)
	}
	return out
}

func (w *Worker) requestScripts(ctx context.Context, m smoke.InstallManifest) {
	if !w.StageEnabled(StageScripts) {
		return
	}
	w.beginStage(StageScripts)
	for _, script := range w.opts.Scripts {
		sm := smoke.RunScriptManifest{
			PkgName:   m.PkgName,
			Cwd:       m.InstallPath,
			Script:    script,
			Workspace: *m.Workspace,
		}
		w.scriptJobs++
		static := sm.Workspace.Static()
		w.emit(events.Event{Type: events.RunScriptBegin, Workspace: &static, ScriptResult: &smoke.RunScriptResult{Manifest: sm, PkgManager: w.opts.PkgManager}})
		go func() {
			w.inbox.Send(message{kind: msgScriptDone, script: w.runScript(ctx, sm)})
		}()
	}
}

// runScript classifies one script run. Only an invocation failure is errored.
func (w *Worker) runScript(ctx context.Context, sm smoke.RunScriptManifest) smoke.RunScriptResult {
	pm := w.opts.PkgManager

	var out smoke.ScriptOutput
	if sm.Workspace.Scripts != nil && !sm.Workspace.HasScript(sm.Script) {
		out.Missing = true
	} else {
		var err error
		out, err = w.opts.Adapter.RunScript(ctx, adapter.RunScriptContext{
			PkgManager: pm,
			TmpDir:     w.dir.Path,
			Manifest:   sm,
		})
		if err != nil {
			return smoke.NewRunScriptResult(smoke.ScriptErrored, sm, pm, out,
				&smoke.RunScriptError{PkgManager: pm, Manifest: sm, Err: err})
		}
	}

	switch {
	case out.Missing && w.opts.Loose:
		return smoke.NewRunScriptResult(smoke.ScriptSkipped, sm, pm, out, nil)
	case out.Missing:
		return smoke.NewRunScriptResult(smoke.ScriptFailed, sm, pm, out,
			&smoke.UnknownScriptError{PkgManager: pm, Manifest: sm})
	case out.ExitCode != 0:
		return smoke.NewRunScriptResult(smoke.ScriptFailed, sm, pm, out,
			&smoke.ScriptFailedError{PkgManager: pm, Manifest: sm, ExitCode: out.ExitCode})
	default:
		return smoke.NewRunScriptResult(smoke.ScriptOK, sm, pm, out, nil)
	}
}

var scriptEventTypes = map[smoke.ScriptResultKind]events.Type{
	smoke.ScriptOK:      events.RunScriptOK,
	smoke.ScriptFailed:  events.RunScriptFailed,
	smoke.ScriptErrored: events.RunScriptError,
	smoke.ScriptSkipped: events.RunScriptSkipped,
}

func (w *Worker) onScriptDone(res smoke.RunScriptResult) {
	w.scripts = append(w.scripts, res)
	static := res.Manifest.Workspace.Static()
	w.emit(events.Event{Type: scriptEventTypes[res.Kind], Workspace: &static, ScriptResult: &res}.WithErr(res.Err))

	if res.Kind == smoke.ScriptErrored {
		w.fail(res.Err)
		return
	}

	total := len(w.opts.Workspaces) * len(w.opts.Scripts)
	if len(w.scripts) < total {
		return
	}
	failed := false
	for _, r := range w.scripts {
		if r.Kind == smoke.ScriptFailed {
			failed = true
		}
	}
	w.endStage(StageScripts, failed, func(ev *events.Event) {
		ev.ScriptResults = cloneScripts(w.scripts)
	})
}

func (w *Worker) shutdown(ctx context.Context) {
	w.setState(StateShutdown)
	bg := context.WithoutCancel(ctx)

	if w.dir.Path != "" {
		if w.opts.Linger {
			w.lingered = w.dir.Path
			w.emit(events.Event{Type: events.Lingered, Dir: w.dir.Path})
		} else if err := w.opts.Scratch.Prune(bg, w.dir); err != nil {
			w.agg.Append(&smoke.CleanupError{PkgManager: w.opts.PkgManager, Dir: w.dir.Path, Err: err})
			w.logger.Warn("failed to prune scratch dir", "dir", w.dir.Path, "error", err)
		}
	}

	if hook, ok := w.opts.Adapter.(adapter.TeardownHook); ok && w.setupDone {
		if err := hook.Teardown(bg, w.lifecycleContext()); err != nil {
			w.agg.Append(&smoke.LifecycleError{Hook: smoke.HookTeardown, PkgManager: w.opts.PkgManager, Err: err})
		}
	}
}

func (w *Worker) finish() {
	state := StateDone
	if w.agg.Len() > 0 {
		state = StateErrored
	}
	w.setState(state)
	w.inbox.Close()

	w.out = Output{
		PkgManager:     w.opts.PkgManager,
		State:          state,
		Lingered:       w.lingered,
		InstallResults: append([]smoke.InstallResult(nil), w.installs...),
		LintResults:    w.lintResults(),
		ScriptResults:  cloneScripts(w.scripts),
		Err:            w.agg.ErrOrNil(),
	}
	close(w.done)
}

func cloneScripts(in []smoke.RunScriptResult) []smoke.RunScriptResult {
	return append([]smoke.RunScriptResult(nil), in...)
}

// DepName extracts the package name from a dependency spec such as
// "lodash@4" or "@scope/pkg@^1".
func DepName(spec string) string {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "@") {
		if i := strings.Index(spec[1:], "@"); i >= 0 {
			return spec[:i+1]
		}
		return spec
	}
	name, _, _ := strings.Cut(spec, "@")
	return name
}

// IsAborted reports whether err only records that the worker was aborted.
func IsAborted(err error) bool {
	var agg *smoke.AggregateError
	if errors.As(err, &agg) {
		for _, e := range agg.Errors() {
			if !errors.Is(e, smoke.ErrAborted) {
				return false
			}
		}
		return agg.Len() > 0
	}
	return errors.Is(err, smoke.ErrAborted)
}
