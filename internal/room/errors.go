package room

import "errors"

var (
	// ErrInvalidTransition is returned for requests not in the transition table.
	ErrInvalidTransition = errors.New("room: invalid transition")

	// ErrUnknownState is returned when parsing an unrecognised state name.
	ErrUnknownState = errors.New("room: unknown state")
)
