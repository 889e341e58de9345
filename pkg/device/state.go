package device

import "fmt"

// State is the controller's view of the system under test.
type State string

const (
	// StateUnknown is the state of a fresh controller.
	StateUnknown State = "unknown"
	// StateRunning follows a successful Start.
	StateRunning State = "running"
	// StateStopped follows a successful Stop.
	StateStopped State = "stopped"
)

var transitions = map[State]map[State]bool{
	StateUnknown: {StateRunning: true, StateStopped: true},
	StateRunning: {StateStopped: true},
	StateStopped: {StateRunning: true},
}

// validateTransition reports whether from → to is allowed.
func validateTransition(from, to State) error {
	allowed, ok := transitions[from]
	if !ok {
		return fmt.Errorf("device: unknown state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("device: invalid transition from %s to %s", from, to)
	}
	return nil
}
