package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/mattjoyce/smoker/internal/adapter"
	"github.com/mattjoyce/smoker/internal/api"
	"github.com/mattjoyce/smoker/internal/config"
	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/history"
	"github.com/mattjoyce/smoker/internal/lock"
	"github.com/mattjoyce/smoker/internal/log"
	"github.com/mattjoyce/smoker/internal/orchestrator"
	"github.com/mattjoyce/smoker/internal/plugin"
	"github.com/mattjoyce/smoker/internal/project"
	"github.com/mattjoyce/smoker/internal/reporter"
	"github.com/mattjoyce/smoker/internal/reporter/tui"
	"github.com/mattjoyce/smoker/internal/rules"
	"github.com/mattjoyce/smoker/internal/scratch"
	"github.com/mattjoyce/smoker/internal/storage"
)

type runFlags struct {
	configPath  string
	cwd         string
	pms         stringList
	workspaces  stringList
	all         bool
	includeRoot bool
	scripts     stringList
	noLint      bool
	add         stringList
	linger      bool
	loose       bool
	reporters   stringList
	jsonOut     bool
	historyDB   string
	listen      string
	scratchDir  string
	logLevel    string
	verbose     bool
}

func parseRunFlags(args []string) (*runFlags, error) {
	f := &runFlags{}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&f.configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&f.cwd, "cwd", "", "Project root")
	fs.Var(&f.pms, "pm", "Package manager spec (repeatable)")
	fs.Var(&f.workspaces, "workspace", "Workspace name or path (repeatable)")
	fs.BoolVar(&f.all, "all", false, "Select every workspace")
	fs.BoolVar(&f.includeRoot, "include-root", false, "Also smoke the root package")
	fs.Var(&f.scripts, "script", "Script to run (repeatable)")
	fs.BoolVar(&f.noLint, "no-lint", false, "Skip the lint stage")
	fs.Var(&f.add, "add", "Additional dependency (repeatable)")
	fs.BoolVar(&f.linger, "linger", false, "Keep scratch directories")
	fs.BoolVar(&f.loose, "loose", false, "Skip missing scripts")
	fs.Var(&f.reporters, "reporter", "Reporter name (repeatable)")
	fs.BoolVar(&f.jsonOut, "json", false, "Emit the JSON report")
	fs.StringVar(&f.historyDB, "history-db", "", "History database path")
	fs.StringVar(&f.listen, "listen", "", "Serve the live event stream on this address")
	fs.StringVar(&f.scratchDir, "scratch-dir", "", "Scratch parent directory")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level")
	fs.BoolVar(&f.verbose, "verbose", false, "Print every event")
	fs.BoolVar(&f.verbose, "v", false, "Print every event")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

// apply layers CLI flags over the file configuration.
func (f *runFlags) apply(cfg *config.Config) error {
	if f.cwd != "" {
		abs, err := filepath.Abs(f.cwd)
		if err != nil {
			return fmt.Errorf("resolve --cwd: %w", err)
		}
		cfg.Cwd = abs
	}
	if len(f.pms) > 0 {
		cfg.PkgManagers = f.pms
	}
	if len(f.workspaces) > 0 {
		cfg.Workspaces = f.workspaces
	}
	if f.all {
		cfg.All = true
	}
	if f.includeRoot {
		cfg.IncludeRoot = true
	}
	if len(f.scripts) > 0 {
		cfg.Scripts = f.scripts
	}
	if f.noLint {
		cfg.Lint = false
	}
	if len(f.add) > 0 {
		cfg.Add = append(cfg.Add, f.add...)
	}
	if f.linger {
		cfg.Linger = true
	}
	if f.loose {
		cfg.Loose = true
	}
	if len(f.reporters) > 0 {
		cfg.Reporters = f.reporters
	}
	if f.jsonOut && !slices.Contains(cfg.Reporters, "json") {
		cfg.Reporters = append(cfg.Reporters, "json")
	}
	if f.historyDB != "" {
		abs, err := filepath.Abs(f.historyDB)
		if err != nil {
			return fmt.Errorf("resolve --history-db: %w", err)
		}
		cfg.History.Enabled = true
		cfg.History.Path = abs
	}
	if f.listen != "" {
		cfg.API.Enabled = true
		cfg.API.Listen = f.listen
	}
	if f.scratchDir != "" {
		cfg.ScratchDir = f.scratchDir
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}

	if cfg.History.Enabled && !slices.Contains(cfg.Reporters, "history") {
		cfg.Reporters = append(cfg.Reporters, "history")
	}
	if cfg.API.Enabled && !slices.Contains(cfg.Reporters, "api") {
		cfg.Reporters = append(cfg.Reporters, "api")
	}
	return config.Validate(cfg)
}

func runSmoke(args []string) int {
	f, err := parseRunFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitError
	}

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return exitError
	}
	if err := f.apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitError
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithComponent("cli")

	runLock, err := lock.Acquire(lock.RunLockPath(cfg.Cwd))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock error: %v\n", err)
		return exitError
	}
	defer func() { _ = runLock.Release() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapters, err := plugin.DiscoverMany(cfg.AdaptersDirs, discoveryLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Adapter discovery error: %v\n", err)
		return exitError
	}

	configured, err := rules.Builtin().Enabled(ruleSettings(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rule error: %v\n", err)
		return exitError
	}

	scratchMgr, err := scratch.NewFSManager(cfg.ScratchDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scratch error: %v\n", err)
		return exitError
	}

	reporters, cleanup, err := buildReporters(ctx, cfg, adapters, f.verbose, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reporter error: %v\n", err)
		return exitError
	}
	defer cleanup()

	orch := orchestrator.New(orchestrator.Options{
		Cwd: cfg.Cwd,
		Selection: project.Selection{
			Names:       cfg.Workspaces,
			All:         cfg.All,
			IncludeRoot: cfg.IncludeRoot,
		},
		PkgManagers:    cfg.PkgManagers,
		Registry:       adapter.NewRegistry(adapter.ExecProviders(adapters, timeouts(cfg))...),
		Rules:          configured,
		Lint:           cfg.Lint,
		Scripts:        cfg.Scripts,
		AdditionalDeps: cfg.Add,
		Linger:         cfg.Linger,
		Loose:          cfg.Loose,
		Scratch:        scratchMgr,
		Reporters:      reporters,
		ReporterGrace:  cfg.ReporterGrace,
	})
	logger.Debug("starting run", "run_id", orch.RunID(), "cwd", cfg.Cwd)

	rep, err := orch.Run(ctx)
	if err != nil {
		var cfgErr *project.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "Config error: %v\n", cfgErr)
		} else {
			fmt.Fprintf(os.Stderr, "Run error: %v\n", err)
		}
		return exitError
	}
	logger.Debug("run finished", "run_id", rep.RunID, "outcome", string(rep.Outcome))
	return rep.Outcome.ExitCode()
}

// buildReporters constructs the configured reporters. The returned cleanup
// stops the API server and closes the history database.
func buildReporters(
	ctx context.Context,
	cfg *config.Config,
	adapters *plugin.Registry,
	verbose bool,
	stdout, stderr io.Writer,
) ([]reporter.Reporter, func(), error) {
	var (
		out     []reporter.Reporter
		closers []func()
		store   *history.Store
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	consoleOut := stdout
	if slices.Contains(cfg.Reporters, "json") || slices.Contains(cfg.Reporters, "tui") {
		consoleOut = stderr
	}

	if slices.Contains(cfg.Reporters, "history") {
		db, err := storage.OpenSQLite(ctx, cfg.History.Path)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open history: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		store = history.NewStore(db)
	}

	for _, name := range cfg.Reporters {
		switch name {
		case "console":
			out = append(out, reporter.NewConsole(consoleOut, verbose))
		case "json":
			out = append(out, reporter.NewJSON(stdout, true))
		case "tui":
			out = append(out, tui.New(stdout))
		case "history":
			out = append(out, history.NewRecorder(store, cfg.Cwd, cfg.Fingerprint))
		case "api":
			hub := events.NewHub(1024)
			var hist api.HistoryReader
			if store != nil {
				hist = store
			}
			srv := api.New(api.Config{Listen: cfg.API.Listen}, hub, adapters, hist, log.WithComponent("api"))
			apiCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			done := make(chan struct{})
			go func() {
				defer close(done)
				if err := srv.Start(apiCtx); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("API server stopped", "error", err)
				}
			}()
			closers = append(closers, func() {
				cancel()
				<-done
			})
			out = append(out, reporter.NewHub(hub))
		default:
			cleanup()
			return nil, func() {}, fmt.Errorf("unknown reporter %q", name)
		}
	}
	return out, cleanup, nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return config.LoadOrDefault(wd)
}

func ruleSettings(cfg *config.Config) map[string]rules.Setting {
	out := make(map[string]rules.Setting, len(cfg.Rules))
	for name, rc := range cfg.Rules {
		out[name] = rules.Setting{Severity: rc.Severity, Opts: rc.Opts}
	}
	return out
}

func timeouts(cfg *config.Config) adapter.Timeouts {
	return adapter.Timeouts{
		Pack:      cfg.Timeouts.Pack,
		Install:   cfg.Timeouts.Install,
		RunScript: cfg.Timeouts.RunScript,
		Lifecycle: cfg.Timeouts.Lifecycle,
	}
}

func discoveryLogger(logger *slog.Logger) func(level, msg string, args ...any) {
	return func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "info":
			logger.Info(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		default:
			logger.Info(msg, args...)
		}
	}
}
