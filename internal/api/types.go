package api

import (
	"time"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/smoke"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	AdaptersLoaded int    `json:"adapters_loaded"`
	RunID          string `json:"run_id,omitempty"`
}

// StageProgress is the latest aggregate counters of one stage.
type StageProgress struct {
	Stage  string        `json:"stage"`
	Status string        `json:"status"`
	Totals events.Totals `json:"totals"`
}

// RunResponse is returned by GET /run.
type RunResponse struct {
	RunID     string          `json:"run_id"`
	Running   bool            `json:"running"`
	LastSeq   int64           `json:"last_seq"`
	LastEvent events.Type     `json:"last_event"`
	Stages    []StageProgress `json:"stages"`
	Outcome   smoke.Outcome   `json:"outcome,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// AdapterResponse describes one adapter plugin.
type AdapterResponse struct {
	Name        string   `json:"name"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	PkgManagers []string `json:"pkg_managers"`
	Commands    []string `json:"commands"`
}

// HistoryEntry is one row of GET /history.
type HistoryEntry struct {
	RunID       string        `json:"run_id"`
	Cwd         string        `json:"cwd"`
	PkgManagers []string      `json:"pkg_managers"`
	Outcome     smoke.Outcome `json:"outcome,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}
