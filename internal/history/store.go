// Package history keeps finished runs and their full event streams in SQLite
// so a report can be rebuilt later.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/smoker/internal/events"
	"github.com/mattjoyce/smoker/internal/report"
	"github.com/mattjoyce/smoker/internal/smoke"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

// Run is one row of the run index.
type Run struct {
	ID           string                       `json:"id"`
	Cwd          string                       `json:"cwd"`
	PkgManagers  []smoke.StaticPkgManagerSpec `json:"pkg_managers"`
	Outcome      smoke.Outcome                `json:"outcome,omitempty"`
	Error        string                       `json:"error,omitempty"`
	ConfigDigest string                       `json:"config_digest,omitempty"`
	StartedAt    time.Time                    `json:"started_at"`
	FinishedAt   *time.Time                   `json:"finished_at,omitempty"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// BeginRun records a new run. Outcome stays empty until FinishRun.
func (s *Store) BeginRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	pms, err := json.Marshal(r.PkgManagers)
	if err != nil {
		return fmt.Errorf("encode pkg managers: %w", err)
	}
	startedAt := r.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs(id, cwd, pkg_managers, config_digest, started_at)
VALUES(?, ?, ?, ?, ?);
`, r.ID, r.Cwd, string(pms), nullable(r.ConfigDigest), startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// AppendEvent stores one event of a run.
func (s *Store) AppendEvent(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO run_events(run_id, seq, type, at, payload)
VALUES(?, ?, ?, ?, ?);
`, ev.RunID, ev.Seq, string(ev.Type), at.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Seq, err)
	}
	return nil
}

// FinishRun stores the verdict of a run.
func (s *Store) FinishRun(ctx context.Context, id string, outcome smoke.Outcome, errText string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET outcome = ?, error = ?, finished_at = ? WHERE id = ?;
`, string(outcome), nullable(errText), finishedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns the newest runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, cwd, pkg_managers, outcome, error, config_digest, started_at, finished_at
FROM runs
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Get returns one run by id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, cwd, pkg_managers, outcome, error, config_digest, started_at, finished_at
FROM runs WHERE id = ?;
`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return r, err
}

// Events returns a run's events in sequence order.
func (s *Store) Events(ctx context.Context, runID string) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT payload FROM run_events WHERE run_id = ? ORDER BY seq ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

// Report rebuilds the report of a stored run from its events.
func (s *Store) Report(ctx context.Context, runID string) (report.Report, error) {
	if _, err := s.Get(ctx, runID); err != nil {
		return report.Report{}, err
	}
	evs, err := s.Events(ctx, runID)
	if err != nil {
		return report.Report{}, err
	}
	return report.FromEvents(evs)
}

// DeleteBefore removes runs that started before cutoff, with their events.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffS := cutoff.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Foreign keys are only enabled on the connection that bootstrapped the
	// schema, so events are removed explicitly.
	if _, err := tx.ExecContext(ctx, `
DELETE FROM run_events WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?);
`, cutoffS); err != nil {
		return 0, fmt.Errorf("delete run events: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?;`, cutoffS)
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r           Run
		pms         string
		outcome     sql.NullString
		errText     sql.NullString
		digest      sql.NullString
		startedAtS  string
		finishedAtS sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Cwd, &pms, &outcome, &errText, &digest, &startedAtS, &finishedAtS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(pms), &r.PkgManagers); err != nil {
		return Run{}, fmt.Errorf("decode pkg managers of run %s: %w", r.ID, err)
	}
	r.Outcome = smoke.Outcome(outcome.String)
	r.Error = errText.String
	r.ConfigDigest = digest.String
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		r.StartedAt = t
	}
	if finishedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAtS.String); err == nil {
			r.FinishedAt = &t
		}
	}
	return r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
