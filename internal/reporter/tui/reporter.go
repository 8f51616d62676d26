package tui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/smoker/internal/events"
)

// Reporter drives a bubbletea program from the run event stream.
type Reporter struct {
	out     io.Writer
	program *tea.Program
	exited  chan error
}

// New creates a TUI reporter rendering to out.
func New(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

func (r *Reporter) Name() string { return "tui" }

func (r *Reporter) start() {
	r.program = tea.NewProgram(NewModel(),
		tea.WithOutput(r.out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	r.exited = make(chan error, 1)
	go func() {
		_, err := r.program.Run()
		r.exited <- err
	}()
}

func (r *Reporter) Handle(_ context.Context, ev events.Event) error {
	if r.program == nil {
		r.start()
	}
	r.program.Send(eventMsg(ev))
	return nil
}

// Close renders the final frame and waits for the program to exit.
func (r *Reporter) Close(ctx context.Context) error {
	if r.program == nil {
		return nil
	}
	r.program.Send(finishMsg{})
	select {
	case err := <-r.exited:
		if err != nil {
			return fmt.Errorf("tui: %w", err)
		}
		return nil
	case <-ctx.Done():
		r.program.Kill()
		return ctx.Err()
	}
}
