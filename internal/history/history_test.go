package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/smoke"
	"github.com/mattjoyce/smoker/internal/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func runStream(id string, at time.Time) []events.Event {
	npm := smoke.StaticPkgManagerSpec{Name: "npm", Adapter: "npm"}
	lm := smoke.LintManifest{InstallPath: "/tmp/x/node_modules/pkg", Workspace: smoke.WorkspaceInfo{Name: "pkg"}}
	failed := smoke.CheckFailed{Rule: "no-banned-files", Manifest: lm, Severity: smoke.SeverityError,
		Violations: []smoke.Violation{{Message: "banned file .npmrc", Severity: smoke.SeverityError, Filepath: ".npmrc"}}}
	lint := smoke.LintResult{PkgManager: npm, Workspace: smoke.StaticWorkspace{Name: "pkg"}, Failed: []smoke.CheckFailed{failed}}

	return []events.Event{
		{Seq: 1, RunID: id, Type: events.RunBegin, At: at, PkgManagers: []smoke.StaticPkgManagerSpec{npm}},
		{Seq: 2, RunID: id, Type: events.RuleFailed, At: at, PkgManager: &npm, Rule: "no-banned-files", CheckResults: []smoke.CheckResult{failed}},
		{Seq: 3, RunID: id, Type: events.PkgManagerLintFailed, At: at, PkgManager: &npm, LintResults: []smoke.LintResult{lint}},
		{Seq: 4, RunID: id, Type: events.RunFailed, At: at.Add(time.Second), Outcome: smoke.OutcomeFailed},
		{Seq: 5, RunID: id, Type: events.BeforeExit, At: at.Add(time.Second)},
	}
}

func record(t *testing.T, s *Store, evs []events.Event) {
	t.Helper()
	rec := NewRecorder(s, "/src/project", "digest-1")
	for _, ev := range evs {
		require.NoError(t, rec.Handle(context.Background(), ev))
	}
	require.NoError(t, rec.Close(context.Background()))
}

func TestRecorderStoresRun(t *testing.T) {
	s := newStore(t)
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	record(t, s, runStream("run-a", at))

	run, err := s.Get(context.Background(), "run-a")
	require.NoError(t, err)
	assert.Equal(t, "/src/project", run.Cwd)
	assert.Equal(t, smoke.OutcomeFailed, run.Outcome)
	assert.Equal(t, "digest-1", run.ConfigDigest)
	require.Len(t, run.PkgManagers, 1)
	assert.Equal(t, "npm", run.PkgManagers[0].Name)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, time.Second, run.FinishedAt.Sub(run.StartedAt))

	evs, err := s.Events(context.Background(), "run-a")
	require.NoError(t, err)
	require.Len(t, evs, 5)
	require.Len(t, evs[1].CheckResults, 1)
	assert.IsType(t, smoke.CheckFailed{}, evs[1].CheckResults[0])
}

func TestReportRebuildsFromStoredEvents(t *testing.T) {
	s := newStore(t)
	record(t, s, runStream("run-b", time.Now()))

	r, err := s.Report(context.Background(), "run-b")
	require.NoError(t, err)
	assert.Equal(t, smoke.OutcomeFailed, r.Outcome)
	require.Len(t, r.LintResults, 1)
	require.Len(t, r.LintResults[0].Failed, 1)
	assert.Equal(t, ".npmrc", r.LintResults[0].Failed[0].Violations[0].Filepath)
}

func TestListNewestFirstAndDeleteBefore(t *testing.T) {
	s := newStore(t)
	old := time.Now().Add(-48 * time.Hour)
	record(t, s, runStream("old", old))
	record(t, s, runStream("new", time.Now()))

	runs, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)

	n, err := s.DeleteBefore(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	evs, err := s.Events(context.Background(), "old")
	require.NoError(t, err)
	assert.Empty(t, evs, "events are deleted with their run")
}

func TestGetUnknownRun(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Report(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecorderRejectsStreamWithoutBegin(t *testing.T) {
	rec := NewRecorder(newStore(t), "/src", "")
	err := rec.Handle(context.Background(), events.Event{Seq: 1, RunID: "x", Type: events.PackBegin})
	assert.Error(t, err)
}
