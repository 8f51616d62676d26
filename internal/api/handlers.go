package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/history"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.adapters != nil {
		resp.AdaptersLoaded = len(s.adapters.All())
	}
	if latest, ok := s.events.Latest(); ok {
		resp.RunID = latest.RunID
	}
	respondJSON(w, http.StatusOK, resp)
}

var stageNames = []string{"pack", "install", "lint", "script"}

// handleRun handles GET /run: progress of the current run as seen by the hub.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	evs := s.events.SnapshotSince(0)
	if len(evs) == 0 {
		s.writeError(w, http.StatusNotFound, "no run in progress")
		return
	}

	last := evs[len(evs)-1]
	resp := RunResponse{
		RunID:     last.RunID,
		Running:   true,
		LastSeq:   last.Seq,
		LastEvent: last.Type,
	}

	progress := map[string]*StageProgress{}
	for _, ev := range evs {
		if ev.IsTerminal() {
			resp.Running = false
			resp.Outcome = ev.Outcome
			resp.Error = ev.Error
		}
		if !isStageEvent(ev.Type) {
			continue
		}
		stage, rest, _ := strings.Cut(string(ev.Type), ".")
		p, ok := progress[stage]
		if !ok {
			p = &StageProgress{Stage: stage, Status: "running"}
			progress[stage] = p
		}
		p.Totals = ev.Totals
		switch rest {
		case "ok":
			p.Status = "ok"
		case "failed":
			p.Status = "failed"
		}
	}
	for _, name := range stageNames {
		if p, ok := progress[name]; ok {
			resp.Stages = append(resp.Stages, *p)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleAdapters handles GET /adapters.
func (s *Server) handleAdapters(w http.ResponseWriter, r *http.Request) {
	resp := []AdapterResponse{}
	if s.adapters != nil {
		for _, p := range s.adapters.All() {
			resp = append(resp, AdapterResponse{
				Name:        p.Name,
				Version:     p.Version,
				Description: p.Description,
				PkgManagers: p.PkgManagers,
				Commands:    p.CommandNames(),
			})
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleHistoryList handles GET /history?limit=N.
func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	resp := make([]HistoryEntry, 0, len(runs))
	for _, run := range runs {
		pms := make([]string, len(run.PkgManagers))
		for i, pm := range run.PkgManagers {
			pms[i] = pm.String()
		}
		resp = append(resp, HistoryEntry{
			RunID:       run.ID,
			Cwd:         run.Cwd,
			PkgManagers: pms,
			Outcome:     run.Outcome,
			StartedAt:   run.StartedAt,
			FinishedAt:  run.FinishedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleHistoryShow handles GET /history/{runID}.
func (s *Server) handleHistoryShow(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	runID := chi.URLParam(r, "runID")
	rep, err := s.history.Report(r.Context(), runID)
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to rebuild report", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to rebuild report")
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func isStageEvent(t events.Type) bool {
	stage, _, _ := strings.Cut(string(t), ".")
	for _, s := range stageNames {
		if s == stage {
			return true
		}
	}
	return false
}
