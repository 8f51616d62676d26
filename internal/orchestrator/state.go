package orchestrator

import "fmt"

// State is the orchestrator lifecycle.
type State int32

const (
	StateIdle State = iota
	StateResolving
	StateRunning
	StateAborting
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateRunning:
		return "running"
	case StateAborting:
		return "aborting"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
