package dispatch

import (
	"context"
	"fmt"
	"sort"
)

// Handler performs one capability. Implementations must be safe to call
// again with the same params.
type Handler interface {
	Invoke(ctx context.Context, params map[string]any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params map[string]any) error

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, params map[string]any) error {
	return f(ctx, params)
}

// Capability binds an action identifier to its handler.
type Capability struct {
	Action  string
	Handler Handler
	// External marks handlers that reach outside the process and get a
	// circuit breaker.
	External bool
}

// Registry is the write-once action → capability table.
// It is read without locks after construction.
type Registry struct {
	caps map[string]Capability
}

// NewRegistry builds a registry.
//
// Returns:
//   - *Registry: Immutable table
//   - error: ErrEmptyRegistry, ErrDuplicateAction or ErrInvalidCapability
func NewRegistry(caps ...Capability) (*Registry, error) {
	if len(caps) == 0 {
		return nil, ErrEmptyRegistry
	}

	r := &Registry{caps: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		if c.Action == "" || c.Handler == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCapability, c.Action)
		}
		if _, exists := r.caps[c.Action]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAction, c.Action)
		}
		r.caps[c.Action] = c
	}
	return r, nil
}

// Lookup returns the capability for an action.
func (r *Registry) Lookup(actionID string) (Capability, bool) {
	c, ok := r.caps[actionID]
	return c, ok
}

// Actions lists registered action identifiers, sorted.
func (r *Registry) Actions() []string {
	out := make([]string, 0, len(r.caps))
	for a := range r.caps {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.caps)
}
