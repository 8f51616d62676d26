package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const version = "0.3.0"

// Exit codes shared by every command.
const (
	exitOK     = 0
	exitFailed = 1
	exitError  = 2
)

func main() {
	os.Exit(dispatch(os.Args[1:]))
}

func dispatch(argv []string) int {
	if len(argv) < 1 {
		printUsage(os.Stderr)
		return exitError
	}

	cmd := argv[0]
	args := argv[1:]

	switch cmd {
	// --- VERBS ---
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return exitOK
		}
		return runSmoke(args)
	case "clean":
		if hasHelpFlag(args) {
			printCleanHelp()
			return exitOK
		}
		return runClean(args)

	// --- NOUNS ---
	case "adapter":
		return runAdapterNoun(args)
	case "rule":
		return runRuleNoun(args)
	case "config":
		return runConfigNoun(args)
	case "history":
		return runHistoryNoun(args)

	// --- ROOT ALIASES ---
	case "doctor":
		return runConfigCheck(args)
	case "version":
		fmt.Printf("smoker version %s\n", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return exitError
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `smoker - smoke-test npm packages the way users install them

Usage:
  smoker <command> [flags]
  smoker <noun> <action> [flags]

Commands:
  run               Pack, install, lint and run scripts against each package manager
  clean             Remove stale scratch directories and old history

Resources (Nouns):
  adapter   Package manager adapters
  rule      Lint rules
  config    Configuration validation
  history   Stored runs

Adapter Commands:
  adapter list      Show discovered adapters

Rule Commands:
  rule list         Show builtin lint rules and their default severity

Config Commands:
  config check      Validate config against adapters, rules and the project

History Commands:
  history list      List stored runs, newest first
  history show <id> Rebuild the report of a stored run

General:
  version           Show version information
  help              Show this help message

Exit codes: 0 success, 1 checks or scripts failed, 2 error.
Use 'smoker <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runAdapterNoun(args []string) int {
	if len(args) < 1 {
		printAdapterNounHelp(os.Stderr)
		return exitError
	}
	if isHelpToken(args[0]) {
		printAdapterNounHelp(os.Stdout)
		return exitOK
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: smoker adapter list [--config PATH] [--adapters-dir DIR] [--json]")
			fmt.Println("Show adapters discovered in adapters_dirs and the package managers they serve.")
			return exitOK
		}
		return runAdapterList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown adapter action: %s\n", action)
		return exitError
	}
}

func runRuleNoun(args []string) int {
	if len(args) < 1 {
		printRuleNounHelp(os.Stderr)
		return exitError
	}
	if isHelpToken(args[0]) {
		printRuleNounHelp(os.Stdout)
		return exitOK
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: smoker rule list [--config PATH] [--json]")
			fmt.Println("Show builtin lint rules with their effective severity.")
			return exitOK
		}
		return runRuleList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown rule action: %s\n", action)
		return exitError
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return exitError
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return exitOK
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: smoker config check [--config PATH] [--format human|json] [--strict]")
			fmt.Println("Validate configuration against discovered adapters, known rules and the project.")
			return exitOK
		}
		return runConfigCheck(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return exitError
	}
}

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		printHistoryNounHelp(os.Stderr)
		return exitError
	}
	if isHelpToken(args[0]) {
		printHistoryNounHelp(os.Stdout)
		return exitOK
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: smoker history list [--config PATH] [--history-db PATH] [--limit N] [--json]")
			return exitOK
		}
		return runHistoryList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: smoker history show <run-id> [--config PATH] [--history-db PATH] [--json]")
			return exitOK
		}
		return runHistoryShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return exitError
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printAdapterNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: smoker adapter <action>")
	fmt.Fprintln(w, "Actions: list")
}

func printRuleNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: smoker rule <action>")
	fmt.Fprintln(w, "Actions: list")
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: smoker config <action> [flags]")
	fmt.Fprintln(w, "Actions: check")
}

func printHistoryNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: smoker history <action> [flags]")
	fmt.Fprintln(w, "Actions: list, show")
}

func printRunHelp() {
	fmt.Println(`Usage: smoker run [flags]

Flags:
  --config PATH        Config file or directory containing smoker.yaml
  --cwd DIR            Project root (overrides cwd)
  --pm SPEC            Package manager, repeatable (npm, pnpm@9, yarn@1)
  --workspace NAME     Workspace name or path, repeatable
  --all                Select every workspace including private ones
  --include-root       Also smoke the root package
  --script NAME        Script to run in every workspace, repeatable
  --no-lint            Skip the lint stage
  --add DEP            Additional dependency to install, repeatable
  --linger             Keep scratch directories after the run
  --loose              Skip scripts a workspace does not define instead of failing
  --reporter NAME      Reporter, repeatable (console, json, history, api, tui)
  --json               Shorthand for --reporter json
  --history-db PATH    Record the run in this SQLite database
  --listen ADDR        Serve the live event stream on ADDR
  --scratch-dir DIR    Parent directory for scratch directories
  --log-level LEVEL    debug, info, warn, error
  -v, --verbose        Print every event on the console`)
}

func printCleanHelp() {
	fmt.Println("Usage: smoker clean [--config PATH] [--older-than DURATION] [--history] [--history-db PATH]")
	fmt.Println("Remove lingered scratch directories older than DURATION (default 24h).")
	fmt.Println("With --history, also delete stored runs started before the cutoff.")
}

// stringList is a repeatable flag that also accepts comma-separated values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}
