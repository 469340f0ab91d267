package bus

import "errors"

var (
	// ErrClosed is returned when publishing to or subscribing on a closed broker.
	ErrClosed = errors.New("bus: broker closed")

	// ErrEmptyPattern is returned when subscribing with an empty pattern.
	ErrEmptyPattern = errors.New("bus: empty subscription pattern")

	// ErrInvalidPattern is returned for patterns that are not valid globs.
	ErrInvalidPattern = errors.New("bus: invalid subscription pattern")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("bus: nil handler")

	// ErrInvalidEvent is returned when publishing an event without a type.
	ErrInvalidEvent = errors.New("bus: event type is required")
)
