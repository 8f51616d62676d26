package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/report"
)

// JSON writes the final report as one JSON document once the run ends.
type JSON struct {
	w      io.Writer
	evs    []events.Event
	wrote  bool
	indent bool
}

// NewJSON creates a JSON reporter writing to w.
func NewJSON(w io.Writer, indent bool) *JSON {
	return &JSON{w: w, indent: indent}
}

func (j *JSON) Name() string { return "json" }

func (j *JSON) Handle(_ context.Context, ev events.Event) error {
	j.evs = append(j.evs, ev)
	if !ev.IsTerminal() {
		return nil
	}
	return j.write()
}

// Close writes whatever was collected if the run never reached a terminal event.
func (j *JSON) Close(context.Context) error {
	if j.wrote || len(j.evs) == 0 {
		return nil
	}
	return j.write()
}

func (j *JSON) write() error {
	j.wrote = true
	r, err := report.FromEvents(j.evs)
	if err != nil && !errors.Is(err, report.ErrIncomplete) {
		return err
	}
	enc := json.NewEncoder(j.w)
	if j.indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
