// Package tui renders a live view of a run with bubbletea.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/smoke"
)

var (
	docStyle = lipgloss.NewStyle().Margin(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

type stageStatus int

const (
	stageQueued stageStatus = iota
	stageRunning
	stageOK
	stageFailed
)

var stageOrder = []string{"pack", "install", "lint", "script"}

type row struct {
	pm     string
	stages map[string]stageStatus
}

type eventMsg events.Event

type finishMsg struct{}

// Model is the bubbletea model for one run.
type Model struct {
	spinner spinner.Model
	rows    map[string]*row
	order   []string
	totals  map[string]events.Totals
	log     []string
	outcome smoke.Outcome
	done    bool
}

// NewModel returns an empty model.
func NewModel() Model {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = statusRunning
	return Model{
		spinner: s,
		rows:    map[string]*row{},
		totals:  map[string]events.Totals{},
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.apply(events.Event(msg))
		return m, nil
	case finishMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(ev events.Event) {
	stage, _, _ := strings.Cut(string(ev.Type), ".")

	switch ev.Type {
	case events.RunBegin:
		for _, pm := range ev.PkgManagers {
			m.row(pm.String())
		}
		return
	case events.RunOK, events.RunFailed, events.RunError:
		m.outcome = ev.Outcome
		return
	case events.PackBegin, events.PackOK, events.PackFailed,
		events.InstallBegin, events.InstallOK, events.InstallFailed,
		events.LintBegin, events.LintOK, events.LintFailed,
		events.ScriptsBegin, events.ScriptsOK, events.ScriptsFailed:
		m.totals[stage] = ev.Totals
		return
	}

	if ev.PkgManager == nil {
		return
	}
	m.totals[stage] = ev.Totals
	r := m.row(ev.PkgManager.String())

	switch ev.Type {
	case events.PkgManagerPackBegin, events.PkgManagerInstallBegin,
		events.PkgManagerLintBegin, events.PkgManagerScriptsBegin:
		r.stages[stage] = stageRunning
	case events.PkgManagerPackOK, events.PkgManagerInstallOK,
		events.PkgManagerLintOK, events.PkgManagerScriptsOK:
		r.stages[stage] = stageOK
	case events.PkgManagerPackFailed, events.PkgManagerInstallFailed,
		events.PkgManagerLintFailed, events.PkgManagerScriptsFailed:
		r.stages[stage] = stageFailed
	case events.PkgPackFailed, events.PkgInstallFailed, events.RuleError, events.RunScriptError:
		m.logf("%s %s: %s", r.pm, ev.Type, ev.Error)
	case events.RunScriptFailed:
		if ev.ScriptResult != nil {
			m.logf("%s %s: script %q failed", r.pm, ev.ScriptResult.Manifest.PkgName, ev.ScriptResult.Manifest.Script)
		}
	case events.RuleFailed:
		m.logf("%s rule %s reported violations", r.pm, ev.Rule)
	}
}

func (m *Model) row(pm string) *row {
	r, ok := m.rows[pm]
	if !ok {
		r = &row{pm: pm, stages: map[string]stageStatus{}}
		m.rows[pm] = r
		m.order = append(m.order, pm)
	}
	return r
}

func (m *Model) logf(format string, args ...any) {
	m.log = append(m.log, fmt.Sprintf(format, args...))
	if len(m.log) > 8 {
		m.log = m.log[len(m.log)-8:]
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("smoker"))
	b.WriteString("\n\n")

	for _, pm := range m.order {
		r := m.rows[pm]
		fmt.Fprintf(&b, "%-16s", pm)
		for _, s := range stageOrder {
			b.WriteString(" ")
			b.WriteString(m.cell(s, r.stages[s]))
		}
		b.WriteString("\n")
	}

	keys := make([]string, 0, len(m.totals))
	for k := range m.totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		b.WriteString("\n")
	}
	for _, k := range keys {
		t := m.totals[k]
		fmt.Fprintf(&b, "%-8s %d/%d", k, t.Completed, t.Jobs)
		if t.Failed > 0 {
			b.WriteString(statusFailed.Render(fmt.Sprintf(" %d failed", t.Failed)))
		}
		b.WriteString("\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\n")
		b.WriteString(statusQueued.Render(strings.Join(m.log, "\n")))
		b.WriteString("\n")
	}

	if m.outcome != "" {
		b.WriteString("\n")
		if m.outcome == smoke.OutcomeSuccess {
			b.WriteString(statusOK.Render("run " + string(m.outcome)))
		} else {
			b.WriteString(statusFailed.Render("run " + string(m.outcome)))
		}
		b.WriteString("\n")
	}
	return docStyle.Render(b.String())
}

func (m Model) cell(stage string, s stageStatus) string {
	switch s {
	case stageRunning:
		return m.spinner.View() + " " + stage
	case stageOK:
		return statusOK.Render("✓ " + stage)
	case stageFailed:
		return statusFailed.Render("✗ " + stage)
	default:
		return statusQueued.Render("· " + stage)
	}
}
