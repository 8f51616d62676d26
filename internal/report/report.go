// Package report holds the final record of a run and rebuilds it from the
// event stream, so every consumer sees the same results the orchestrator saw.
package report

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/smoke"
)

// Report is the final aggregate of one run.
type Report struct {
	RunID         string                       `json:"run_id"`
	Outcome       smoke.Outcome                `json:"outcome"`
	PkgManagers   []smoke.StaticPkgManagerSpec `json:"pkg_managers"`
	Workspaces    []smoke.StaticWorkspace      `json:"workspaces"`
	LintResults   []smoke.LintResult           `json:"lint_results"`
	ScriptResults []smoke.RunScriptResult      `json:"script_results"`
	Lingered      []string                     `json:"lingered,omitempty"`
	Error         string                       `json:"error,omitempty"`
	StartedAt     time.Time                    `json:"started_at"`
	FinishedAt    time.Time                    `json:"finished_at"`

	Err error `json:"-"`
}

// Outcome decides the run verdict. A fatal error wins; otherwise any lint
// failure at error severity or any failed script fails the run.
func Outcome(lint []smoke.LintResult, scripts []smoke.RunScriptResult, err error) smoke.Outcome {
	if err != nil {
		return smoke.OutcomeError
	}
	for _, lr := range lint {
		if lr.HasErrors() {
			return smoke.OutcomeFailed
		}
	}
	for _, sr := range scripts {
		if sr.Kind == smoke.ScriptFailed || sr.Kind == smoke.ScriptErrored {
			return smoke.OutcomeFailed
		}
	}
	return smoke.OutcomeSuccess
}

// Counts summarizes a report for display.
type Counts struct {
	ChecksPassed   int
	ChecksFailed   int
	ChecksWarned   int
	ScriptsOK      int
	ScriptsFailed  int
	ScriptsSkipped int
}

// Counts tallies lint checks and script results.
func (r Report) Counts() Counts {
	var c Counts
	for _, lr := range r.LintResults {
		c.ChecksPassed += len(lr.Passed)
		for _, f := range lr.Failed {
			if f.Severity == smoke.SeverityError {
				c.ChecksFailed++
			} else {
				c.ChecksWarned++
			}
		}
	}
	for _, sr := range r.ScriptResults {
		switch sr.Kind {
		case smoke.ScriptOK:
			c.ScriptsOK++
		case smoke.ScriptSkipped:
			c.ScriptsSkipped++
		default:
			c.ScriptsFailed++
		}
	}
	return c
}

// SortByPkgManager orders results by the report's package manager order,
// keeping each package manager's own order.
func (r *Report) SortByPkgManager() {
	rank := func(pm smoke.StaticPkgManagerSpec) int {
		for i, p := range r.PkgManagers {
			if p.String() == pm.String() {
				return i
			}
		}
		return len(r.PkgManagers)
	}
	slices.SortStableFunc(r.LintResults, func(a, b smoke.LintResult) int {
		return rank(a.PkgManager) - rank(b.PkgManager)
	})
	slices.SortStableFunc(r.ScriptResults, func(a, b smoke.RunScriptResult) int {
		return rank(a.PkgManager) - rank(b.PkgManager)
	})
}

// ErrIncomplete is returned by FromEvents when the stream has no terminal event.
var ErrIncomplete = errors.New("event stream has no terminal run event")

// FromEvents rebuilds a report from a run's events. Per-package-manager
// stage terminals carry the results; the run terminal carries the verdict.
func FromEvents(evs []events.Event) (Report, error) {
	var (
		r        Report
		terminal *events.Event
	)
	r.LintResults = []smoke.LintResult{}
	r.ScriptResults = []smoke.RunScriptResult{}

	for i := range evs {
		ev := evs[i]
		switch ev.Type {
		case events.RunBegin:
			r.RunID = ev.RunID
			r.StartedAt = ev.At
			r.PkgManagers = ev.PkgManagers
			r.Workspaces = ev.Workspaces
		case events.PkgManagerLintOK, events.PkgManagerLintFailed:
			r.LintResults = append(r.LintResults, ev.LintResults...)
		case events.PkgManagerScriptsOK, events.PkgManagerScriptsFailed:
			r.ScriptResults = append(r.ScriptResults, ev.ScriptResults...)
		case events.Lingered:
			r.Lingered = append(r.Lingered, ev.Dir)
		case events.RunOK, events.RunFailed, events.RunError:
			terminal = &evs[i]
		}
	}

	if terminal == nil {
		return r, ErrIncomplete
	}
	if r.RunID == "" {
		r.RunID = terminal.RunID
	}
	r.Outcome = terminal.Outcome
	r.Error = terminal.Error
	if r.Error != "" {
		r.Err = errors.New(r.Error)
	}
	r.FinishedAt = terminal.At
	r.SortByPkgManager()

	if r.Outcome == "" {
		return r, fmt.Errorf("terminal event %s has no outcome", terminal.Type)
	}
	return r, nil
}
