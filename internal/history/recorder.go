package history

import (
	"context"
	"fmt"

	"github.com/mattjoyce/smoker/internal/events"
)

// Recorder is a reporter that writes a run into the history store as it happens.
type Recorder struct {
	store  *Store
	cwd    string
	digest string
	begun  bool
}

// NewRecorder creates a history reporter. digest identifies the config the run used.
func NewRecorder(store *Store, cwd, digest string) *Recorder {
	return &Recorder{store: store, cwd: cwd, digest: digest}
}

func (r *Recorder) Name() string { return "history" }

func (r *Recorder) Handle(ctx context.Context, ev events.Event) error {
	if !r.begun {
		if ev.Type != events.RunBegin {
			return fmt.Errorf("first event is %s, want %s", ev.Type, events.RunBegin)
		}
		if err := r.store.BeginRun(ctx, Run{
			ID:           ev.RunID,
			Cwd:          r.cwd,
			PkgManagers:  ev.PkgManagers,
			ConfigDigest: r.digest,
			StartedAt:    ev.At,
		}); err != nil {
			return err
		}
		r.begun = true
	}

	if err := r.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	if ev.IsTerminal() {
		return r.store.FinishRun(ctx, ev.RunID, ev.Outcome, ev.Error, ev.At)
	}
	return nil
}

func (r *Recorder) Close(context.Context) error { return nil }
