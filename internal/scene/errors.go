package scene

import "errors"

var (
	// ErrSceneNotFound is returned when a scene ID does not exist.
	ErrSceneNotFound = errors.New("scene: not found")

	// ErrInvalidScene is returned when scene validation fails.
	ErrInvalidScene = errors.New("scene: invalid")

	// ErrMissingRequired is returned when the table lacks a scene the router depends on.
	ErrMissingRequired = errors.New("scene: required scene missing")
)
