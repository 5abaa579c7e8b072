package checkout

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of a payment session.
type State int

const (
	StateIdle State = iota
	StateInitiating
	StatePending
	StateSuccess
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:       "IDLE",
	StateInitiating: "INITIATING",
	StatePending:    "PENDING",
	StateSuccess:    "SUCCESS",
	StateFailed:     "FAILED",
}

// transitions lists the allowed edges. Every state may additionally return to Idle.
var transitions = map[State][]State{
	StateIdle:       {StateInitiating},
	StateInitiating: {StatePending, StateFailed},
	StatePending:    {StatePending, StateSuccess, StateFailed},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// IsTerminal reports whether no further automatic transition happens from s.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed
}

// InFlight reports whether a payment is currently being initiated or confirmed.
func (s State) InFlight() bool {
	return s == StateInitiating || s == StatePending
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for state, stateName := range stateNames {
		if stateName == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", string(text))
}

// CanTransition reports whether the session state machine allows from -> to.
func CanTransition(from, to State) bool {
	if to == StateIdle {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
