package arbiter

import "errors"

var (
	// ErrMalformedEvent is returned when an event lacks a required payload field.
	ErrMalformedEvent = errors.New("arbiter: malformed event")

	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("arbiter: missing dependency")
)
