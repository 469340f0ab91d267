package ingest

import "errors"

var (
	// ErrBadTopic is returned for a message outside the signal tree.
	ErrBadTopic = errors.New("ingest: topic is not a signal topic")

	// ErrBadPayload is returned when a signal body is not a JSON object.
	ErrBadPayload = errors.New("ingest: payload is not a JSON object")
)
