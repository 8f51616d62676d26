package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/smoker/internal/smoke"
)

func TestHubSnapshotSince(t *testing.T) {
	h := NewHub(3)
	for i := int64(1); i <= 5; i++ {
		h.Publish(Event{Seq: i, Type: RunBegin})
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].Seq)
	assert.Equal(t, int64(5), all[2].Seq)

	tail := h.SnapshotSince(4)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(5), tail[0].Seq)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(5), latest.Seq)
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()

	h.Publish(Event{Seq: 1, Type: PackBegin})
	select {
	case ev := <-ch:
		assert.Equal(t, PackBegin, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event on subscription")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open, "channel should be closed after cancel")
}

func TestHubSlowSubscriberMissesEvents(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := int64(1); i <= subscriberBuffer+3; i++ {
		h.Publish(Event{Seq: i, Type: InstallBegin})
	}
	assert.Equal(t, uint64(3), h.Dropped())
	assert.Len(t, ch, subscriberBuffer)

	cancel()
	cancel()
}

func TestEventJSONRoundTrip(t *testing.T) {
	pm := smoke.StaticPkgManagerSpec{Name: "npm", Version: "10"}
	ws := smoke.StaticWorkspace{Name: "pkg", LocalPath: "/src/pkg"}
	lm := smoke.LintManifest{InstallPath: "/tmp/x/node_modules/pkg", Workspace: smoke.WorkspaceInfo{Name: "pkg"}}

	ev := Event{
		Seq:        7,
		RunID:      "run-1",
		Type:       RuleFailed,
		At:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		PkgManager: &pm,
		Workspace:  &ws,
		Rule:       "no-banned-files",
		Totals:     Totals{PkgManagers: 1, Workspaces: 1, Rules: 2},
		CheckResults: []smoke.CheckResult{
			smoke.CheckOK{Rule: "no-banned-files", Manifest: lm},
			smoke.CheckFailed{Rule: "no-banned-files", Manifest: lm, Severity: smoke.SeverityError,
				Violations: []smoke.Violation{{Message: "banned", Severity: smoke.SeverityError}}},
		},
	}.WithErr(errors.New("rule blew up"))

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ev.Seq, got.Seq)
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, pm, *got.PkgManager)
	assert.Equal(t, "rule blew up", got.Error)
	require.Len(t, got.CheckResults, 2)
	assert.IsType(t, smoke.CheckOK{}, got.CheckResults[0])
	failed, ok := got.CheckResults[1].(smoke.CheckFailed)
	require.True(t, ok)
	assert.Equal(t, "banned", failed.Violations[0].Message)
}

func TestEventIsTerminal(t *testing.T) {
	assert.True(t, Event{Type: RunOK}.IsTerminal())
	assert.True(t, Event{Type: RunError}.IsTerminal())
	assert.False(t, Event{Type: BeforeExit}.IsTerminal())
}
