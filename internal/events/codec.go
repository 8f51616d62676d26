package events

import (
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/smoker/internal/smoke"
)

type eventAlias Event

type wireEvent struct {
	eventAlias
	CheckResults []json.RawMessage `json:"check_results,omitempty"`
}

// MarshalJSON keeps check results tagged so DecodeEvent can rebuild their variants.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{eventAlias: eventAlias(e)}
	for _, c := range e.CheckResults {
		raw, err := smoke.MarshalCheck(c)
		if err != nil {
			return nil, fmt.Errorf("encode check result: %w", err)
		}
		w.CheckResults = append(w.CheckResults, raw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON. Typed errors come back as text only.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event(w.eventAlias)
	e.CheckResults = nil
	for _, raw := range w.CheckResults {
		c, err := smoke.UnmarshalCheck(raw)
		if err != nil {
			return fmt.Errorf("decode check result: %w", err)
		}
		e.CheckResults = append(e.CheckResults, c)
	}
	return nil
}
