package reporter

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/report"
	"github.com/mattjoyce/smoker/internal/smoke"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00C853"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5252"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD740"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// maxOutputLines caps how much script output the console echoes per failure.
const maxOutputLines = 20

// Console prints stage progress and a summary for humans.
type Console struct {
	w       io.Writer
	verbose bool
	evs     []events.Event
	started time.Time
}

// NewConsole creates a console reporter. Verbose also prints every passing unit.
func NewConsole(w io.Writer, verbose bool) *Console {
	return &Console{w: w, verbose: verbose}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Handle(_ context.Context, ev events.Event) error {
	c.evs = append(c.evs, ev)
	line := c.line(ev)
	if line == "" {
		return nil
	}
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func (c *Console) Close(context.Context) error { return nil }

func (c *Console) line(ev events.Event) string {
	pm := ""
	if ev.PkgManager != nil {
		pm = dimStyle.Render("[" + ev.PkgManager.String() + "]")
	}
	ws := ""
	if ev.Workspace != nil {
		ws = ev.Workspace.Name
	}

	switch ev.Type {
	case events.RunBegin:
		c.started = ev.At
		return headerStyle.Render(fmt.Sprintf("smoker: %d workspace(s) × %d package manager(s)",
			len(ev.Workspaces), len(ev.PkgManagers)))
	case events.PackOK, events.InstallOK, events.LintOK, events.ScriptsOK:
		return fmt.Sprintf("%s %s %s", okStyle.Render("✓"), stageName(ev.Type), progress(ev.Totals))
	case events.PackFailed, events.InstallFailed, events.LintFailed, events.ScriptsFailed:
		return fmt.Sprintf("%s %s %s", failStyle.Render("✗"), stageName(ev.Type), progress(ev.Totals))
	case events.PkgPackFailed, events.PkgInstallFailed:
		return fmt.Sprintf("  %s %s %s: %s", failStyle.Render("✗"), pm, ws, ev.Error)
	case events.RuleFailed:
		return c.ruleFailed(pm, ev)
	case events.RuleError:
		return fmt.Sprintf("  %s %s rule %s errored: %s", failStyle.Render("!"), pm, ev.Rule, ev.Error)
	case events.RunScriptFailed, events.RunScriptError:
		return c.scriptFailed(pm, ev)
	case events.RunScriptSkipped:
		if ev.ScriptResult != nil {
			return fmt.Sprintf("  %s %s %s: script %q missing, skipped", warnStyle.Render("-"), pm,
				ev.ScriptResult.Manifest.PkgName, ev.ScriptResult.Manifest.Script)
		}
	case events.RunScriptOK:
		if c.verbose && ev.ScriptResult != nil {
			return fmt.Sprintf("  %s %s %s: %s", okStyle.Render("✓"), pm,
				ev.ScriptResult.Manifest.PkgName, ev.ScriptResult.Manifest.Script)
		}
	case events.Lingered:
		return fmt.Sprintf("%s %s left scratch dir at %s", dimStyle.Render("·"), pm, ev.Dir)
	case events.RunOK, events.RunFailed, events.RunError:
		return c.summary()
	}
	return ""
}

func (c *Console) ruleFailed(pm string, ev events.Event) string {
	var b strings.Builder
	for _, cr := range ev.CheckResults {
		f, ok := cr.(smoke.CheckFailed)
		if !ok {
			continue
		}
		mark := failStyle.Render("✗")
		if f.Severity == smoke.SeverityWarn {
			mark = warnStyle.Render("!")
		}
		for _, v := range f.Violations {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "  %s %s %s [%s] %s", mark, pm, f.Manifest.Workspace.Name, f.Rule, v.Message)
			if v.Filepath != "" {
				fmt.Fprintf(&b, " %s", dimStyle.Render(v.Filepath))
			}
		}
	}
	return b.String()
}

func (c *Console) scriptFailed(pm string, ev events.Event) string {
	if ev.ScriptResult == nil {
		return fmt.Sprintf("  %s %s %s", failStyle.Render("✗"), pm, ev.Error)
	}
	sr := ev.ScriptResult
	var b strings.Builder
	fmt.Fprintf(&b, "  %s %s %s: script %q", failStyle.Render("✗"), pm, sr.Manifest.PkgName, sr.Manifest.Script)
	switch sr.Kind {
	case smoke.ScriptErrored:
		fmt.Fprintf(&b, " could not run: %s", sr.Error)
	case smoke.ScriptFailed:
		if sr.Output.Missing {
			b.WriteString(" not found")
		} else {
			fmt.Fprintf(&b, " exited %d", sr.Output.ExitCode)
		}
	}
	if out := tail(sr.Output.Stderr, maxOutputLines); out != "" {
		b.WriteByte('\n')
		b.WriteString(dimStyle.Render(indent(out, "    ")))
	}
	return b.String()
}

func (c *Console) summary() string {
	r, err := report.FromEvents(c.evs)
	if err != nil {
		return failStyle.Render(fmt.Sprintf("run ended without a result: %v", err))
	}
	n := r.Counts()

	var verdict string
	switch r.Outcome {
	case smoke.OutcomeSuccess:
		verdict = okStyle.Render("PASS")
	case smoke.OutcomeFailed:
		verdict = failStyle.Render("FAIL")
	default:
		verdict = failStyle.Render("ERROR")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s  checks: %d passed, %d failed, %d warned  scripts: %d ok, %d failed, %d skipped",
		verdict, n.ChecksPassed, n.ChecksFailed, n.ChecksWarned, n.ScriptsOK, n.ScriptsFailed, n.ScriptsSkipped)
	if !c.started.IsZero() && !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "  %s", dimStyle.Render(r.FinishedAt.Sub(c.started).Round(time.Millisecond).String()))
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "\n%s", failStyle.Render(r.Error))
	}
	return b.String()
}

func stageName(t events.Type) string {
	name, _, _ := strings.Cut(string(t), ".")
	return name
}

func progress(t events.Totals) string {
	s := fmt.Sprintf("%d/%d", t.Completed, t.Jobs)
	if t.Failed > 0 {
		s += fmt.Sprintf(" (%d failed)", t.Failed)
	}
	return dimStyle.Render(s)
}

func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
