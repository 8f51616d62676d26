package report

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/smoke"
)

func TestOutcome(t *testing.T) {
	warnOnly := smoke.LintResult{Failed: []smoke.CheckFailed{{Rule: "r", Severity: smoke.SeverityWarn}}}
	errLint := smoke.LintResult{Failed: []smoke.CheckFailed{{Rule: "r", Severity: smoke.SeverityError}}}

	tests := []struct {
		name    string
		lint    []smoke.LintResult
		scripts []smoke.RunScriptResult
		err     error
		want    smoke.Outcome
	}{
		{name: "empty", want: smoke.OutcomeSuccess},
		{name: "warnings pass", lint: []smoke.LintResult{warnOnly}, want: smoke.OutcomeSuccess},
		{name: "skipped scripts pass", scripts: []smoke.RunScriptResult{{Kind: smoke.ScriptSkipped}}, want: smoke.OutcomeSuccess},
		{name: "lint error fails", lint: []smoke.LintResult{errLint}, want: smoke.OutcomeFailed},
		{name: "script failure fails", scripts: []smoke.RunScriptResult{{Kind: smoke.ScriptFailed}}, want: smoke.OutcomeFailed},
		{name: "fatal error wins", lint: []smoke.LintResult{errLint}, err: errors.New("boom"), want: smoke.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.lint, tt.scripts, tt.err))
		})
	}
}

func TestFromEvents(t *testing.T) {
	npm := smoke.StaticPkgManagerSpec{Name: "npm"}
	pnpm := smoke.StaticPkgManagerSpec{Name: "pnpm"}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	evs := []events.Event{
		{Type: events.RunBegin, RunID: "r1", At: start, PkgManagers: []smoke.StaticPkgManagerSpec{npm, pnpm}},
		{Type: events.PkgManagerScriptsOK, PkgManager: &pnpm, ScriptResults: []smoke.RunScriptResult{{Kind: smoke.ScriptOK, PkgManager: pnpm}}},
		{Type: events.PkgManagerScriptsFailed, PkgManager: &npm, ScriptResults: []smoke.RunScriptResult{{Kind: smoke.ScriptFailed, PkgManager: npm}}},
		{Type: events.PkgManagerLintOK, PkgManager: &npm, LintResults: []smoke.LintResult{{PkgManager: npm}}},
		{Type: events.Lingered, PkgManager: &npm, Dir: "/tmp/smoker-npm-1"},
		{Type: events.RunFailed, RunID: "r1", At: start.Add(time.Minute), Outcome: smoke.OutcomeFailed},
	}

	r, err := FromEvents(evs)
	require.NoError(t, err)
	assert.Equal(t, "r1", r.RunID)
	assert.Equal(t, smoke.OutcomeFailed, r.Outcome)
	require.Len(t, r.ScriptResults, 2)
	assert.Equal(t, npm, r.ScriptResults[0].PkgManager, "results follow run.begin package manager order")
	assert.Len(t, r.LintResults, 1)
	assert.Equal(t, []string{"/tmp/smoker-npm-1"}, r.Lingered)
	assert.Equal(t, time.Minute, r.FinishedAt.Sub(r.StartedAt))

	c := r.Counts()
	assert.Equal(t, 1, c.ScriptsOK)
	assert.Equal(t, 1, c.ScriptsFailed)
}

func TestFromEventsIncomplete(t *testing.T) {
	_, err := FromEvents([]events.Event{{Type: events.RunBegin}})
	assert.ErrorIs(t, err, ErrIncomplete)
}
