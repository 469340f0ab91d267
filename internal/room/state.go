package room

import (
	"fmt"
	"strings"
	"time"
)

// State is the room's occupancy state.
type State string

// Room states.
const (
	Empty    State = "EMPTY"
	Occupied State = "OCCUPIED"
	Sleep    State = "SLEEP"
	Wake     State = "WAKE"
)

// States lists every state in declaration order.
var States = []State{Empty, Occupied, Sleep, Wake}

var transitions = map[State]map[State]bool{
	Empty:    {Occupied: true},
	Occupied: {Empty: true, Sleep: true},
	Sleep:    {Occupied: true, Wake: true},
	Wake:     {Occupied: true},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	if from == to {
		return false
	}
	if to == Occupied && from.Valid() {
		return true
	}
	return transitions[from][to]
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// ParseState converts a case-insensitive name to a State.
func ParseState(name string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, name)
	}
	return s, nil
}

// Lower returns the state name in lower case for speech and logs.
func (s State) Lower() string {
	return strings.ToLower(string(s))
}

// Change is one committed transition.
type Change struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
