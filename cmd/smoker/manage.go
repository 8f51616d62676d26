package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/smoker/internal/doctor"
	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/history"
	"github.com/mattjoyce/smoker/internal/plugin"
	"github.com/mattjoyce/smoker/internal/reporter"
	"github.com/mattjoyce/smoker/internal/rules"
	"github.com/mattjoyce/smoker/internal/scratch"
	"github.com/mattjoyce/smoker/internal/smoke"
	"github.com/mattjoyce/smoker/internal/storage"
)

func runAdapterList(args []string) int {
	fs := flag.NewFlagSet("adapter list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	var dirs stringList
	fs.Var(&dirs, "adapters-dir", "Adapter root (repeatable)")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}

	roots := []string(dirs)
	if len(roots) == 0 {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
			return exitError
		}
		roots = cfg.AdaptersDirs
	}

	registry, err := plugin.DiscoverMany(roots, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Adapter discovery error: %v\n", err)
		return exitError
	}

	type adapterRow struct {
		Name        string   `json:"name"`
		Version     string   `json:"version"`
		PkgManagers []string `json:"pkg_managers"`
		Commands    []string `json:"commands"`
		Path        string   `json:"path"`
	}
	rows := make([]adapterRow, 0)
	for _, p := range registry.All() {
		rows = append(rows, adapterRow{
			Name:        p.Name,
			Version:     p.Version,
			PkgManagers: p.PkgManagers,
			Commands:    p.CommandNames(),
			Path:        p.Path,
		})
	}

	if *jsonOut {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No adapters found in:", strings.Join(roots, ", "))
		return exitOK
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tPKG MANAGERS\tCOMMANDS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Version, strings.Join(r.PkgManagers, ","), strings.Join(r.Commands, ","))
	}
	_ = tw.Flush()
	return exitOK
}

func runRuleList(args []string) int {
	fs := flag.NewFlagSet("rule list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return exitError
	}

	type ruleRow struct {
		Name            string         `json:"name"`
		Description     string         `json:"description"`
		DefaultSeverity smoke.Severity `json:"default_severity"`
		Severity        smoke.Severity `json:"severity"`
	}
	registry := rules.Builtin()
	rows := make([]ruleRow, 0)
	for _, name := range registry.Names() {
		rule, _ := registry.Get(name)
		row := ruleRow{
			Name:            name,
			Description:     rule.Description(),
			DefaultSeverity: rule.DefaultSeverity(),
			Severity:        rule.DefaultSeverity(),
		}
		if rc, ok := cfg.Rules[name]; ok && rc.Severity != "" {
			row.Severity = rc.Severity
		}
		rows = append(rows, row)
	}

	if *jsonOut {
		return printJSON(rows)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tSEVERITY\tDESCRIPTION")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Severity, r.Description)
	}
	_ = tw.Flush()
	return exitOK
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	format := fs.String("format", "human", "Output format: human or json")
	jsonOut := fs.Bool("json", false, "Shorthand for --format json")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}
	if *jsonOut {
		*format = "json"
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return exitError
	}

	registry, err := plugin.DiscoverMany(cfg.AdaptersDirs, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Adapter discovery error: %v\n", err)
		return exitError
	}

	result := doctor.New(cfg, registry, rules.Builtin()).Validate()

	switch *format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON encode error: %v\n", err)
			return exitError
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return exitFailed
	}
	if *strict && len(result.Warnings) > 0 {
		return exitFailed
	}
	return exitOK
}

func runHistoryList(args []string) int {
	fs := flag.NewFlagSet("history list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("history-db", "", "History database path")
	limit := fs.Int("limit", 20, "Maximum runs to show")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}

	ctx := context.Background()
	store, closeDB, err := openHistory(ctx, *configPath, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History error: %v\n", err)
		return exitError
	}
	defer closeDB()

	runs, err := store.List(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History error: %v\n", err)
		return exitError
	}

	if *jsonOut {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return exitOK
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tOUTCOME\tSTARTED\tDURATION\tPKG MANAGERS")
	for _, r := range runs {
		outcome, duration := "running", "-"
		if r.Outcome != "" {
			outcome = string(r.Outcome)
		}
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		pms := make([]string, len(r.PkgManagers))
		for i, pm := range r.PkgManagers {
			pms[i] = pm.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, outcome, r.StartedAt.Local().Format(time.DateTime), duration, strings.Join(pms, ","))
	}
	_ = tw.Flush()
	return exitOK
}

func runHistoryShow(args []string) int {
	fs := flag.NewFlagSet("history show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("history-db", "", "History database path")
	jsonOut := fs.Bool("json", false, "Output the rebuilt report as JSON")
	verbose := fs.Bool("verbose", false, "Print every stored event")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}
	// Flags may also follow the run id.
	runID := fs.Arg(0)
	if fs.NArg() > 1 {
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
			return exitError
		}
	}
	if runID == "" {
		fmt.Fprintln(os.Stderr, "Usage: smoker history show <run-id> [--json]")
		return exitError
	}

	ctx := context.Background()
	store, closeDB, err := openHistory(ctx, *configPath, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History error: %v\n", err)
		return exitError
	}
	defer closeDB()

	if *jsonOut {
		rep, err := store.Report(ctx, runID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "History error: %v\n", err)
			return exitError
		}
		return printJSON(rep)
	}

	evs, err := store.Events(ctx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History error: %v\n", err)
		return exitError
	}
	if len(evs) == 0 {
		fmt.Fprintf(os.Stderr, "History error: %v\n", history.ErrNotFound)
		return exitError
	}
	if err := replay(ctx, reporter.NewConsole(os.Stdout, *verbose), evs); err != nil {
		fmt.Fprintf(os.Stderr, "Replay error: %v\n", err)
		return exitError
	}
	return exitOK
}

func runClean(args []string) int {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	olderThan := fs.Duration("older-than", 24*time.Hour, "Minimum age of removed entries")
	withHistory := fs.Bool("history", false, "Also delete stored runs started before the cutoff")
	dbPath := fs.String("history-db", "", "History database path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}
	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be positive")
		return exitError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return exitError
	}

	ctx := context.Background()
	mgr, err := scratch.NewFSManager(cfg.ScratchDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scratch error: %v\n", err)
		return exitError
	}
	rep, err := mgr.Cleanup(ctx, *olderThan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup error: %v\n", err)
		return exitError
	}
	fmt.Printf("Removed %d scratch director(ies) under %s\n", rep.DeletedDirs, mgr.BaseDir())

	if !*withHistory {
		return exitOK
	}
	store, closeDB, err := openHistory(ctx, *configPath, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History error: %v\n", err)
		return exitError
	}
	defer closeDB()
	n, err := store.DeleteBefore(ctx, time.Now().Add(-*olderThan))
	if err != nil {
		fmt.Fprintf(os.Stderr, "History error: %v\n", err)
		return exitError
	}
	fmt.Printf("Deleted %d stored run(s)\n", n)
	return exitOK
}

// openHistory opens the history database named by --history-db or the config.
func openHistory(ctx context.Context, configPath, dbPath string) (*history.Store, func(), error) {
	path := dbPath
	if path == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, nil, err
		}
		path = cfg.History.Path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve history path: %w", err)
	}
	if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("no history database at %s (enable history or pass --history-db)", abs)
	}
	db, err := storage.OpenSQLite(ctx, abs)
	if err != nil {
		return nil, nil, err
	}
	return history.NewStore(db), func() { _ = db.Close() }, nil
}

func replay(ctx context.Context, r reporter.Reporter, evs []events.Event) error {
	for _, ev := range evs {
		if err := r.Handle(ctx, ev); err != nil {
			return err
		}
	}
	return r.Close(ctx)
}

func printJSON(v any) int {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "JSON encode error: %v\n", err)
		return exitError
	}
	return exitOK
}
