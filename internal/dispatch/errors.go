package dispatch

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrUnknownAction is returned when no handler is registered for an action.
	ErrUnknownAction = errors.New("dispatch: unknown action")

	// ErrTransient marks a failure worth one retry. Handlers wrap it.
	ErrTransient = errors.New("dispatch: transient failure")

	// ErrPersistentFailure is returned when the retry failed too.
	ErrPersistentFailure = errors.New("dispatch: persistent failure")

	// ErrCircuitOpen is returned while a capability's breaker is open.
	ErrCircuitOpen = errors.New("dispatch: circuit open")

	// ErrPreempted is returned when a higher-priority instruction took the target.
	ErrPreempted = errors.New("dispatch: preempted")

	// ErrEmptyRegistry is returned when constructing with no capabilities.
	ErrEmptyRegistry = errors.New("dispatch: empty capability registry")

	// ErrDuplicateAction is returned when two capabilities claim one action.
	ErrDuplicateAction = errors.New("dispatch: duplicate action")

	// ErrInvalidCapability is returned for a capability without action or handler.
	ErrInvalidCapability = errors.New("dispatch: invalid capability")

	// ErrClosed is returned for instructions submitted after Close.
	ErrClosed = errors.New("dispatch: dispatcher closed")
)

// IsTransient reports whether err deserves a retry.
//
// Transient errors are those wrapping ErrTransient, network timeouts,
// deadline expiries, and any error implementing Transient() bool.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}
