package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/smoker/internal/adapter"
	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/log"
	"github.com/mattjoyce/smoker/internal/project"
	"github.com/mattjoyce/smoker/internal/report"
	"github.com/mattjoyce/smoker/internal/reporter"
	"github.com/mattjoyce/smoker/internal/rules"
	"github.com/mattjoyce/smoker/internal/scratch"
	"github.com/mattjoyce/smoker/internal/smoke"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type fakeAdapter struct {
	packErr     error
	exitCode    int
	scriptErr   error
	teardownErr error
	// installStarted is closed on the first install; blockInstall makes it wait for ctx.
	installStarted chan struct{}
	blockInstall   bool
	startOnce      sync.Once
	installs       atomic.Int32
}

func (f *fakeAdapter) Pack(_ context.Context, pc adapter.PackContext) (smoke.InstallManifest, error) {
	if f.packErr != nil {
		return smoke.InstallManifest{}, f.packErr
	}
	ws := pc.Workspace
	return smoke.InstallManifest{
		Kind:        smoke.ManifestWorkspace,
		Spec:        filepath.Join(pc.TmpDir, ws.Name+".tgz"),
		PkgName:     ws.Name,
		Cwd:         pc.TmpDir,
		InstallPath: filepath.Join(pc.TmpDir, "node_modules", ws.Name),
		Workspace:   &ws,
	}, nil
}

func (f *fakeAdapter) Install(ctx context.Context, ic adapter.InstallContext) (smoke.InstallResult, error) {
	f.installs.Add(1)
	if f.installStarted != nil {
		f.startOnce.Do(func() { close(f.installStarted) })
	}
	if f.blockInstall {
		<-ctx.Done()
		return smoke.InstallResult{}, ctx.Err()
	}
	return smoke.InstallResult{Manifest: ic.Manifest}, nil
}

func (f *fakeAdapter) RunScript(_ context.Context, _ adapter.RunScriptContext) (smoke.ScriptOutput, error) {
	if f.scriptErr != nil {
		return smoke.ScriptOutput{}, f.scriptErr
	}
	return smoke.ScriptOutput{ExitCode: f.exitCode}, nil
}

type fakeProvider struct {
	name     string
	adapters map[string]*fakeAdapter
}

func (p fakeProvider) Name() string { return p.name }

func (p fakeProvider) PkgManagers() []string {
	out := make([]string, 0, len(p.adapters))
	for pm := range p.adapters {
		out = append(out, pm)
	}
	return out
}

func (p fakeProvider) New(spec smoke.StaticPkgManagerSpec) (adapter.Adapter, error) {
	a := p.adapters[spec.Name]
	if a.teardownErr != nil {
		return tearingDown{a}, nil
	}
	return a, nil
}

type tearingDown struct{ *fakeAdapter }

func (t tearingDown) Teardown(context.Context, adapter.LifecycleContext) error { return t.teardownErr }

type failingPrune struct {
	scratch.Manager
	err error
}

func (f failingPrune) Prune(context.Context, scratch.Dir) error { return f.err }

type passRule struct{ name string }

func (r passRule) Name() string                    { return r.name }
func (r passRule) Description() string             { return "always passes" }
func (r passRule) DefaultSeverity() smoke.Severity { return smoke.SeverityError }
func (r passRule) Check(context.Context, *rules.Context, map[string]any) error {
	return nil
}

type throwRule struct{}

func (throwRule) Name() string                    { return "throws" }
func (throwRule) Description() string             { return "always errors" }
func (throwRule) DefaultSeverity() smoke.Severity { return smoke.SeverityError }
func (throwRule) Check(context.Context, *rules.Context, map[string]any) error {
	return errors.New("rule implementation broke")
}

func configured(rs ...rules.Rule) []rules.Configured {
	out := make([]rules.Configured, len(rs))
	for i, r := range rs {
		out[i] = rules.Configured{Rule: r, Severity: r.DefaultSeverity()}
	}
	return out
}

type collector struct {
	mu  sync.Mutex
	evs []events.Event
}

func (c *collector) reporter() reporter.Reporter {
	return reporter.Func{
		ReporterName: "collector",
		OnEvent: func(_ context.Context, ev events.Event) error {
			c.mu.Lock()
			c.evs = append(c.evs, ev)
			c.mu.Unlock()
			return nil
		},
	}
}

func (c *collector) events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.evs...)
}

func (c *collector) ofType(t events.Type) []events.Event {
	var out []events.Event
	for _, ev := range c.events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	pkg := `{"name":"pkg","version":"1.0.0","main":"index.js","scripts":{"test":"node test.js"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0o644))
	return dir
}

type fixture struct {
	opts    Options
	col     *collector
	scratch string
}

func newFixture(t *testing.T, adapters map[string]*fakeAdapter) *fixture {
	t.Helper()
	base := t.TempDir()
	mgr, err := scratch.NewFSManager(base)
	require.NoError(t, err)

	pms := make([]string, 0, len(adapters))
	for pm := range adapters {
		pms = append(pms, pm)
	}

	col := &collector{}
	return &fixture{
		col:     col,
		scratch: base,
		opts: Options{
			Cwd:         writeProject(t),
			PkgManagers: pms,
			Registry:    adapter.NewRegistry(fakeProvider{name: "fake", adapters: adapters}),
			Rules:       configured(passRule{name: "passes"}),
			Lint:        true,
			Scripts:     []string{"test"},
			Scratch:     mgr,
			Reporters:   []reporter.Reporter{col.reporter()},
			RunID:       "run-test",
		},
	}
}

func (f *fixture) run(t *testing.T, ctx context.Context) *report.Report {
	t.Helper()
	type result struct {
		r   *report.Report
		err error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := New(f.opts).Run(ctx)
		ch <- result{r, err}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		require.NotNil(t, res.r)
		return res.r
	case <-time.After(15 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}

func (f *fixture) assertNoScratchLeft(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "no scratch directory may outlive the run")
}

func assertRoundTrip(t *testing.T, r *report.Report, evs []events.Event) {
	t.Helper()
	rebuilt, err := report.FromEvents(evs)
	require.NoError(t, err)
	assert.Equal(t, r.RunID, rebuilt.RunID)
	assert.Equal(t, r.Outcome, rebuilt.Outcome)
	assert.Equal(t, r.PkgManagers, rebuilt.PkgManagers)
	assert.Equal(t, r.Workspaces, rebuilt.Workspaces)
	assert.Equal(t, r.LintResults, rebuilt.LintResults)
	assert.Equal(t, r.ScriptResults, rebuilt.ScriptResults)
	assert.Equal(t, r.Lingered, rebuilt.Lingered)
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t, map[string]*fakeAdapter{"npm": {}})
	r := f.run(t, context.Background())

	assert.Equal(t, smoke.OutcomeSuccess, r.Outcome)
	assert.NoError(t, r.Err)
	require.Len(t, r.ScriptResults, 1)
	assert.Equal(t, smoke.ScriptOK, r.ScriptResults[0].Kind)
	require.Len(t, r.LintResults, 1)
	assert.Len(t, r.LintResults[0].Passed, 1)
	assert.Empty(t, r.LintResults[0].Failed)

	evs := f.col.events()
	require.NotEmpty(t, evs)
	assert.Equal(t, events.RunBegin, evs[0].Type)
	assert.Equal(t, events.BeforeExit, evs[len(evs)-1].Type)
	for i := 1; i < len(evs); i++ {
		assert.Greater(t, evs[i].Seq, evs[i-1].Seq, "sequence ids increase")
		assert.Equal(t, "run-test", evs[i].RunID)
	}
	assert.Len(t, f.col.ofType(events.RunOK), 1)
	for _, stage := range []events.Type{events.PackOK, events.InstallOK, events.LintOK, events.ScriptsOK} {
		assert.Len(t, f.col.ofType(stage), 1, "one aggregate terminal for %s", stage)
	}

	assertRoundTrip(t, r, evs)
	f.assertNoScratchLeft(t)
}

func TestRunPackFailureProducesNoInstalls(t *testing.T) {
	a := &fakeAdapter{packErr: errors.New("npm pack exploded")}
	f := newFixture(t, map[string]*fakeAdapter{"npm": a})
	r := f.run(t, context.Background())

	assert.Equal(t, smoke.OutcomeError, r.Outcome)
	assert.Zero(t, a.installs.Load())
	var perr *smoke.PackError
	assert.ErrorAs(t, r.Err, &perr)
	assert.Len(t, f.col.ofType(events.RunError), 1)
	assert.Len(t, f.col.ofType(events.PackFailed), 1)
	f.assertNoScratchLeft(t)
}

func TestRunScriptNonzeroIsFailedNotErrored(t *testing.T) {
	f := newFixture(t, map[string]*fakeAdapter{"npm": {exitCode: 1}})
	r := f.run(t, context.Background())

	assert.Equal(t, smoke.OutcomeFailed, r.Outcome)
	assert.NoError(t, r.Err)
	require.Len(t, r.ScriptResults, 1)
	assert.Equal(t, smoke.ScriptFailed, r.ScriptResults[0].Kind)
	assert.Empty(t, f.col.ofType(events.RunScriptError))
	assertRoundTrip(t, r, f.col.events())
}

func TestRunRuleErrorIsReportedOnce(t *testing.T) {
	f := newFixture(t, map[string]*fakeAdapter{"npm": {}})
	f.opts.Rules = configured(throwRule{}, passRule{name: "passes"})
	r := f.run(t, context.Background())

	assert.Len(t, f.col.ofType(events.RuleError), 1)
	require.Len(t, r.LintResults, 1)
	require.Len(t, r.LintResults[0].Passed, 1)
	assert.Equal(t, "passes", r.LintResults[0].Passed[0].Rule)

	var rerr *smoke.RuleError
	assert.ErrorAs(t, r.Err, &rerr)
	assert.Equal(t, smoke.OutcomeError, r.Outcome)

	lintDone := f.col.ofType(events.LintFailed)
	require.Len(t, lintDone, 1)
	assert.Equal(t, 2, lintDone[0].Totals.Completed, "the erroring rule still counts toward the plan")
}

func TestRunKeepsResultsOfHealthyPkgManager(t *testing.T) {
	f := newFixture(t, map[string]*fakeAdapter{
		"npm":  {packErr: errors.New("broken")},
		"pnpm": {},
	})
	r := f.run(t, context.Background())

	assert.Equal(t, smoke.OutcomeError, r.Outcome)
	var perr *smoke.PackError
	require.ErrorAs(t, r.Err, &perr)
	assert.Equal(t, "npm", perr.PkgManager.Name)

	require.Len(t, r.ScriptResults, 1)
	assert.Equal(t, "pnpm", r.ScriptResults[0].PkgManager.Name)
	assert.Equal(t, smoke.ScriptOK, r.ScriptResults[0].Kind)
	require.Len(t, r.LintResults, 1)
	assert.Equal(t, "pnpm", r.LintResults[0].PkgManager.Name)

	assertRoundTrip(t, r, f.col.events())
	f.assertNoScratchLeft(t)
}

func TestRunUnsupportedPkgManager(t *testing.T) {
	f := newFixture(t, map[string]*fakeAdapter{"npm": {}})
	f.opts.PkgManagers = []string{"npm", "yarn"}
	r := f.run(t, context.Background())

	var uerr *smoke.UnsupportedPkgManagerError
	require.ErrorAs(t, r.Err, &uerr)
	assert.Equal(t, []string{"yarn"}, uerr.Requested)
	assert.Equal(t, smoke.OutcomeError, r.Outcome)
	require.Len(t, r.ScriptResults, 1, "supported package managers still run")
}

func TestRunNoSupportedPkgManagers(t *testing.T) {
	f := newFixture(t, map[string]*fakeAdapter{"npm": {}})
	f.opts.PkgManagers = []string{"yarn"}
	r := f.run(t, context.Background())

	assert.Equal(t, smoke.OutcomeError, r.Outcome)
	types := make([]events.Type, 0)
	for _, ev := range f.col.events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.Type{events.RunBegin, events.RunError, events.BeforeExit}, types)
}

func TestRunConfigError(t *testing.T) {
	f := newFixture(t, map[string]*fakeAdapter{"npm": {}})
	f.opts.Selection = project.Selection{Names: []string{"missing"}}

	r, err := New(f.opts).Run(context.Background())
	assert.Nil(t, r)
	var cerr *project.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, f.col.events(), "reporters are not started for config errors")
}

func TestRunCancelledMidInstall(t *testing.T) {
	a := &fakeAdapter{blockInstall: true, installStarted: make(chan struct{})}
	f := newFixture(t, map[string]*fakeAdapter{"npm": a})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-a.installStarted
		cancel()
	}()
	r := f.run(t, ctx)

	assert.Equal(t, smoke.OutcomeError, r.Outcome)
	assert.ErrorIs(t, r.Err, smoke.ErrAborted)
	assert.Empty(t, r.ScriptResults)
	assert.Len(t, f.col.ofType(events.RunError), 1)
	f.assertNoScratchLeft(t)
}

func TestRunLinger(t *testing.T) {
	f := newFixture(t, map[string]*fakeAdapter{"npm": {}})
	f.opts.Linger = true
	r := f.run(t, context.Background())

	require.Len(t, r.Lingered, 1)
	assert.DirExists(t, r.Lingered[0])
	assert.Len(t, f.col.ofType(events.Lingered), 1)
	assertRoundTrip(t, r, f.col.events())
}

func TestRunPruneFailureIsRunError(t *testing.T) {
	f := newFixture(t, map[string]*fakeAdapter{"npm": {}})
	f.opts.Scratch = failingPrune{Manager: f.opts.Scratch, err: errors.New("device busy")}
	r := f.run(t, context.Background())

	assert.Equal(t, smoke.OutcomeError, r.Outcome)
	var ce *smoke.CleanupError
	require.ErrorAs(t, r.Err, &ce)
	require.Len(t, r.ScriptResults, 1, "results gathered before the prune are kept")

	runErr := f.col.ofType(events.RunError)
	require.Len(t, runErr, 1)
	assert.Contains(t, runErr[0].Error, "device busy")
	assert.Empty(t, f.col.ofType(events.RunOK))
}

func TestRunTeardownFailureIsRunError(t *testing.T) {
	f := newFixture(t, map[string]*fakeAdapter{"npm": {teardownErr: errors.New("cache lock stuck")}})
	r := f.run(t, context.Background())

	assert.Equal(t, smoke.OutcomeError, r.Outcome)
	var le *smoke.LifecycleError
	require.ErrorAs(t, r.Err, &le)
	assert.Equal(t, smoke.HookTeardown, le.Hook)

	runErr := f.col.ofType(events.RunError)
	require.Len(t, runErr, 1)
	assert.Contains(t, runErr[0].Error, "teardown hook: cache lock stuck")
	f.assertNoScratchLeft(t)
}

func TestRunReporterGraceExceeded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	f := newFixture(t, map[string]*fakeAdapter{"npm": {}})
	f.opts.ReporterGrace = 50 * time.Millisecond
	f.opts.Reporters = append(f.opts.Reporters, reporter.Func{
		ReporterName: "stuck",
		OnClose: func(context.Context) error {
			<-release
			return nil
		},
	})
	r := f.run(t, context.Background())

	var rerr *smoke.ReporterError
	require.ErrorAs(t, r.Err, &rerr)
	assert.Equal(t, "stuck", rerr.Reporter)
	assert.ErrorIs(t, r.Err, reporter.ErrGraceExceeded)
	assert.Equal(t, smoke.OutcomeError, r.Outcome)
}

func TestRunReporterCrashAborts(t *testing.T) {
	a := &fakeAdapter{blockInstall: true}
	f := newFixture(t, map[string]*fakeAdapter{"npm": a})
	f.opts.Reporters = append(f.opts.Reporters, reporter.Func{
		ReporterName: "crashy",
		OnEvent: func(_ context.Context, ev events.Event) error {
			if ev.Type == events.PkgInstallBegin {
				panic("render failed")
			}
			return nil
		},
	})
	r := f.run(t, context.Background())

	var rerr *smoke.ReporterError
	require.ErrorAs(t, r.Err, &rerr)
	assert.Equal(t, "crashy", rerr.Reporter)
	assert.Equal(t, smoke.OutcomeError, r.Outcome)
	assert.Len(t, f.col.ofType(events.RunError), 1, "healthy reporters still see the end of the run")
	f.assertNoScratchLeft(t)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "aborting", StateAborting.String())
	assert.Equal(t, "done", StateDone.String())
}
