package capability

import (
	"context"
	"fmt"

	"github.com/nerrad567/arvis-core/internal/dispatch"
	"github.com/nerrad567/arvis-core/internal/room"
)

// StateSetter applies room transitions. *room.Manager satisfies it.
type StateSetter interface {
	State() room.State
	SetState(ctx context.Context, to room.State, reason string) (room.Change, error)
}

// RoomTransition returns the room.transition handler.
// A transition to the current state is a no-op so redelivery is safe.
func RoomTransition(states StateSetter) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, params map[string]any) error {
		to, err := room.ParseState(text(params, "to"))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		if states.State() == to {
			return nil
		}
		if _, err := states.SetState(ctx, to, text(params, "reason")); err != nil {
			return fmt.Errorf("applying transition: %w", err)
		}
		return nil
	})
}
