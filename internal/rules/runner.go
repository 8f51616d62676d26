package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/smoker/internal/log"
	"github.com/mattjoyce/smoker/internal/mailbox"
	"github.com/mattjoyce/smoker/internal/smoke"
)

// State is the Runner lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// NoticeKind classifies a Runner notice.
type NoticeKind int

const (
	NoticeBegin NoticeKind = iota
	NoticeResult
	NoticeError
)

// Notice is reported to the owner for each check as it starts and finishes.
type Notice struct {
	Kind     NoticeKind
	Rule     string
	Manifest smoke.LintManifest
	Result   smoke.CheckResult
	Err      *smoke.RuleError
}

// Output is the final state of a Runner.
type Output struct {
	Rule    string
	State   State
	Results []smoke.CheckResult
	Errors  []*smoke.RuleError
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Rule       Configured
	PkgManager smoke.StaticPkgManagerSpec
	// Plan is the number of checks after which the runner is done.
	Plan int
	// Notify is called from the runner goroutine. It must not block.
	Notify func(Notice)
}

type msgKind int

const (
	msgCheck msgKind = iota
	msgCheckDone
	msgAbort
)

type message struct {
	kind     msgKind
	manifest smoke.LintManifest
	result   smoke.CheckResult
	err      *smoke.RuleError
}

// Runner drives one rule over a stream of check requests. Each request gets
// its own checker goroutine; the runner finishes once Plan checks have
// produced either a result or a rule error.
type Runner struct {
	opts   RunnerOptions
	logger *slog.Logger
	inbox  *mailbox.Mailbox[message]
	done   chan struct{}

	// Owned by the loop goroutine until done is closed.
	state   State
	results []smoke.CheckResult
	errs    []*smoke.RuleError
	out     Output
}

// NewRunner creates an idle runner.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Notify == nil {
		opts.Notify = func(Notice) {}
	}
	return &Runner{
		opts:   opts,
		logger: log.WithPkgManager(opts.PkgManager.String()).With("rule", opts.Rule.Name()),
		inbox:  mailbox.New[message](),
		done:   make(chan struct{}),
	}
}

// Name returns the rule name.
func (r *Runner) Name() string { return r.opts.Rule.Name() }

// Start launches the runner loop. Cancelling ctx aborts the runner.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Check requests one check against an installed package.
func (r *Runner) Check(m smoke.LintManifest) {
	r.inbox.Send(message{kind: msgCheck, manifest: m})
}

// Abort stops the runner; in-flight checks are cancelled and their results discarded.
func (r *Runner) Abort() {
	r.inbox.Send(message{kind: msgAbort})
}

// Done is closed when the runner reaches done or aborted.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Output returns the final output. It is only valid after Done is closed.
func (r *Runner) Output() Output {
	<-r.done
	return r.out
}

func (r *Runner) loop(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if r.opts.Plan <= 0 {
		r.finish(StateDone)
		return
	}

	for {
		msg, ok := r.inbox.Receive(ctx)
		if !ok {
			r.finish(StateAborted)
			return
		}

		switch msg.kind {
		case msgCheck:
			if r.state == StateIdle {
				r.state = StateRunning
			}
			r.opts.Notify(Notice{Kind: NoticeBegin, Rule: r.Name(), Manifest: msg.manifest})
			go r.check(ctx, msg.manifest)

		case msgCheckDone:
			if msg.err != nil {
				r.errs = append(r.errs, msg.err)
				r.logger.Warn("rule error", "workspace", msg.manifest.Workspace.Name, "error", msg.err)
				r.opts.Notify(Notice{Kind: NoticeError, Rule: r.Name(), Manifest: msg.manifest, Err: msg.err})
			} else {
				r.results = append(r.results, msg.result)
				r.opts.Notify(Notice{Kind: NoticeResult, Rule: r.Name(), Manifest: msg.manifest, Result: msg.result})
			}
			if len(r.results)+len(r.errs) >= r.opts.Plan {
				r.finish(StateDone)
				return
			}

		case msgAbort:
			r.finish(StateAborted)
			return
		}
	}
}

func (r *Runner) finish(s State) {
	r.state = s
	r.inbox.Close()
	r.out = Output{Rule: r.Name(), State: s, Results: r.results, Errors: r.errs}
	r.logger.Debug("rule runner finished", "state", s.String(), "results", len(r.results), "errors", len(r.errs))
	close(r.done)
}

func (r *Runner) check(ctx context.Context, m smoke.LintManifest) {
	res, err := r.runCheck(ctx, m)
	if err != nil {
		r.inbox.Send(message{kind: msgCheckDone, manifest: m, err: &smoke.RuleError{
			Rule:       r.Name(),
			PkgManager: r.opts.PkgManager,
			Manifest:   m,
			Err:        err,
		}})
		return
	}
	r.inbox.Send(message{kind: msgCheckDone, manifest: m, result: res})
}

// runCheck calls the rule, converting a panic into an error.
func (r *Runner) runCheck(ctx context.Context, m smoke.LintManifest) (res smoke.CheckResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	rc := NewContext(r.Name(), r.opts.Rule.Severity, m)
	if err := r.opts.Rule.Rule.Check(ctx, rc, r.opts.Rule.Opts); err != nil {
		return nil, err
	}
	return rc.Result(), nil
}
