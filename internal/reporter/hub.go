package reporter

import (
	"context"

	"github.com/mattjoyce/smoker/internal/events"
)

// Hub republishes every event to an in-memory hub for API clients.
type Hub struct {
	hub *events.Hub
}

// NewHub creates a hub reporter.
func NewHub(h *events.Hub) *Hub { return &Hub{hub: h} }

func (h *Hub) Name() string { return "api" }

func (h *Hub) Handle(_ context.Context, ev events.Event) error {
	h.hub.Publish(ev)
	return nil
}

func (h *Hub) Close(context.Context) error { return nil }
