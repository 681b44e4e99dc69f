package plugin

import "fmt"

// State is a plugin lifecycle state. The values are the ones shown to operators.
type State string

// Lifecycle states.
const (
	StateDiscovered    State = "discovered"
	StateRegistered    State = "registered"
	StateEnabled       State = "enabled"
	StateDisabled      State = "disabled"
	StateFaulted       State = "faulted"
	StateUpdatePending State = "update_pending"
)

// transitions is the adjacency list of allowed next states.
var transitions = map[State][]State{
	StateDiscovered:    {StateRegistered, StateFaulted},
	StateRegistered:    {StateEnabled, StateFaulted, StateUpdatePending},
	StateEnabled:       {StateDisabled, StateFaulted, StateUpdatePending},
	StateDisabled:      {StateEnabled, StateUpdatePending},
	StateUpdatePending: {StateEnabled, StateDisabled, StateFaulted},
	StateFaulted:       {StateRegistered, StateDisabled},
}

// AllStates returns every lifecycle state.
func AllStates() []State {
	return []State{
		StateDiscovered,
		StateRegistered,
		StateEnabled,
		StateDisabled,
		StateFaulted,
		StateUpdatePending,
	}
}

// ParseState converts an operator-facing string into a State.
func ParseState(s string) (State, error) {
	for _, st := range AllStates() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown plugin state %q", s)
}

func (s State) String() string {
	return string(s)
}

// IsValid returns true if s is a known state.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}
