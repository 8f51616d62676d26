// Package reporter turns the run event stream into output. Every reporter
// runs as its own actor so a slow or broken reporter never stalls the run.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/log"
	"github.com/mattjoyce/smoker/internal/mailbox"
	"github.com/mattjoyce/smoker/internal/smoke"
)

// Reporter consumes run events in sequence order.
type Reporter interface {
	Name() string
	// Handle is called once per event, never concurrently.
	Handle(ctx context.Context, ev events.Event) error
	// Close is called once after the last event.
	Close(ctx context.Context) error
}

// ErrGraceExceeded is wrapped in the ReporterError of an actor that did not
// finish before the grace period ran out.
var ErrGraceExceeded = errors.New("did not finish within grace period")

// Actor owns one reporter and feeds it from an unbounded inbox.
type Actor struct {
	r      Reporter
	logger *slog.Logger
	inbox  *mailbox.Mailbox[events.Event]
	done   chan struct{}
	onFail func(*smoke.ReporterError)

	mu  sync.Mutex
	err *smoke.ReporterError
}

// Spawn starts an actor for r. onFail is called at most once, from the
// actor goroutine, when the reporter returns an error or panics.
func Spawn(ctx context.Context, r Reporter, onFail func(*smoke.ReporterError)) *Actor {
	if onFail == nil {
		onFail = func(*smoke.ReporterError) {}
	}
	a := &Actor{
		r:      r,
		logger: log.WithComponent("reporter").With("reporter", r.Name()),
		inbox:  mailbox.New[events.Event](),
		done:   make(chan struct{}),
		onFail: onFail,
	}
	go a.loop(context.WithoutCancel(ctx))
	return a
}

// Name returns the reporter name.
func (a *Actor) Name() string { return a.r.Name() }

// Send queues ev. Events sent after Close are dropped.
func (a *Actor) Send(ev events.Event) { a.inbox.Send(ev) }

// Close tells the actor no more events are coming.
func (a *Actor) Close() { a.inbox.Close() }

// Done is closed once the reporter has drained and closed.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Err returns the reporter's failure, if any.
func (a *Actor) Err() *smoke.ReporterError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Wait blocks until the actor finishes or ctx expires. An expired ctx yields
// a ReporterError wrapping ErrGraceExceeded.
func (a *Actor) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		if err := a.Err(); err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		return &smoke.ReporterError{Reporter: a.r.Name(), Err: ErrGraceExceeded}
	}
}

func (a *Actor) loop(ctx context.Context) {
	defer close(a.done)

	for {
		ev, ok := a.inbox.Receive(ctx)
		if !ok {
			break
		}
		if a.Err() != nil {
			continue
		}
		if err := a.call(func() error { return a.r.Handle(ctx, ev) }); err != nil {
			a.failed(fmt.Errorf("handle %s: %w", ev.Type, err))
		}
	}

	if err := a.call(func() error { return a.r.Close(ctx) }); err != nil && a.Err() == nil {
		a.failed(fmt.Errorf("close: %w", err))
	}
}

func (a *Actor) call(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

func (a *Actor) failed(err error) {
	rerr := &smoke.ReporterError{Reporter: a.r.Name(), Err: err}
	a.mu.Lock()
	a.err = rerr
	a.mu.Unlock()
	a.logger.Error("reporter failed", "error", err)
	a.onFail(rerr)
}

// Func adapts plain functions into a Reporter.
type Func struct {
	ReporterName string
	OnEvent      func(ctx context.Context, ev events.Event) error
	OnClose      func(ctx context.Context) error
}

func (f Func) Name() string { return f.ReporterName }

func (f Func) Handle(ctx context.Context, ev events.Event) error {
	if f.OnEvent == nil {
		return nil
	}
	return f.OnEvent(ctx, ev)
}

func (f Func) Close(ctx context.Context) error {
	if f.OnClose == nil {
		return nil
	}
	return f.OnClose(ctx)
}
