package bus

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/log"
	"github.com/mattjoyce/smoker/internal/smoke"
	"github.com/mattjoyce/smoker/internal/worker"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

var (
	npm  = smoke.StaticPkgManagerSpec{Name: "npm"}
	pnpm = smoke.StaticPkgManagerSpec{Name: "pnpm"}
	wsA  = smoke.WorkspaceInfo{Name: "a", LocalPath: "/src/a"}
	wsB  = smoke.WorkspaceInfo{Name: "b", LocalPath: "/src/b"}
)

type sink struct {
	mu       sync.Mutex
	evs      []events.Event
	controls []Control
}

func (s *sink) emit(ev events.Event) {
	s.mu.Lock()
	s.evs = append(s.evs, ev)
	s.mu.Unlock()
}

func (s *sink) control(c Control) {
	s.mu.Lock()
	s.controls = append(s.controls, c)
	s.mu.Unlock()
}

func (s *sink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Type
	for _, ev := range s.evs {
		out = append(out, ev.Type)
	}
	return out
}

func raw(t events.Type, pm smoke.StaticPkgManagerSpec, ws *smoke.WorkspaceInfo) events.Event {
	ev := events.Event{Type: t, PkgManager: &pm}
	if ws != nil {
		s := ws.Static()
		ev.Workspace = &s
	}
	return ev
}

func waitDone(t *testing.T, d *Distributor) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("distributor did not finish")
	}
}

func TestDistributorEnrichesAndCompletes(t *testing.T) {
	s := &sink{}
	d := New(Options{
		Stage:       worker.StageScripts,
		PkgManagers: []smoke.StaticPkgManagerSpec{npm, pnpm},
		Workspaces:  []smoke.WorkspaceInfo{wsA, wsB},
		Scripts:     []string{"smoke"},
		Emit:        s.emit,
		Control:     s.control,
	})
	d.Start(context.Background())

	okResult := smoke.RunScriptResult{Kind: smoke.ScriptOK, PkgManager: npm}
	failResult := smoke.RunScriptResult{Kind: smoke.ScriptFailed, PkgManager: pnpm}

	// Interleaved across package managers.
	d.Publish(raw(events.RunScriptBegin, npm, &wsA))
	d.Publish(raw(events.RunScriptBegin, pnpm, &wsA))
	d.Publish(raw(events.RunScriptOK, npm, &wsA))
	d.Publish(raw(events.RunScriptFailed, pnpm, &wsA))
	d.Publish(raw(events.RunScriptOK, npm, &wsB))
	npmDone := raw(events.PkgManagerScriptsOK, npm, nil)
	npmDone.ScriptResults = []smoke.RunScriptResult{okResult}
	d.Publish(npmDone)
	d.Publish(raw(events.RunScriptOK, pnpm, &wsB))
	pnpmDone := raw(events.PkgManagerScriptsFailed, pnpm, nil)
	pnpmDone.ScriptResults = []smoke.RunScriptResult{failResult}
	d.Publish(pnpmDone)

	waitDone(t, d)

	types := s.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.ScriptsBegin, types[0])
	assert.Equal(t, events.ScriptsFailed, types[len(types)-1])

	last := s.evs[len(s.evs)-1]
	assert.Equal(t, 4, last.Totals.Jobs)
	assert.Equal(t, 4, last.Totals.Completed)
	assert.Equal(t, 1, last.Totals.Failed)
	assert.Equal(t, 2, last.Totals.PkgManagersDone)
	assert.Len(t, last.ScriptResults, 2)

	require.Len(t, s.controls, 1)
	assert.True(t, s.controls[0].Failed)
	assert.Equal(t, []smoke.StaticPkgManagerSpec{pnpm}, s.controls[0].FailedPkgManagers)
}

func TestDistributorCountsEachPkgManagerOnce(t *testing.T) {
	s := &sink{}
	d := New(Options{
		Stage:       worker.StagePack,
		PkgManagers: []smoke.StaticPkgManagerSpec{npm, pnpm},
		Workspaces:  []smoke.WorkspaceInfo{wsA},
		Emit:        s.emit,
		Control:     s.control,
	})
	d.Start(context.Background())

	d.Publish(raw(events.PkgManagerPackOK, npm, nil))
	d.Publish(raw(events.PkgManagerPackOK, npm, nil))

	select {
	case <-d.Done():
		t.Fatal("duplicate terminal from one package manager must not complete the stage")
	case <-time.After(50 * time.Millisecond):
	}

	d.Publish(raw(events.PkgManagerPackOK, pnpm, nil))
	waitDone(t, d)

	require.Len(t, s.controls, 1)
	assert.False(t, s.controls[0].Failed)
	assert.Equal(t, events.PackOK, s.types()[len(s.types())-1])
}

func TestDistributorJobs(t *testing.T) {
	base := Options{
		PkgManagers:    []smoke.StaticPkgManagerSpec{npm, pnpm},
		Workspaces:     []smoke.WorkspaceInfo{wsA, wsB},
		AdditionalDeps: 1,
		Rules:          []string{"r1", "r2", "r3"},
		Scripts:        []string{"s1"},
	}
	tests := map[worker.Stage]int{
		worker.StagePack:    4,
		worker.StageInstall: 6,
		worker.StageLint:    12,
		worker.StageScripts: 4,
	}
	for stage, want := range tests {
		opts := base
		opts.Stage = stage
		assert.Equal(t, want, New(opts).totals.Jobs, stage.String())
	}
}

func TestDistributorCancelStopsWithoutTerminal(t *testing.T) {
	s := &sink{}
	ctx, cancel := context.WithCancel(context.Background())
	d := New(Options{
		Stage:       worker.StageInstall,
		PkgManagers: []smoke.StaticPkgManagerSpec{npm},
		Emit:        s.emit,
		Control:     s.control,
	})
	d.Start(ctx)
	cancel()
	waitDone(t, d)
	assert.Empty(t, s.controls)
}
