// Package dispatch executes instructions against registered capability
// handlers.
//
// Every instruction reaches exactly one terminal Outcome:
//   - succeeded: the handler returned nil
//   - failed: the handler failed (after one silent retry for transient
//     errors), was preempted, or its context ended
//   - rejected: nothing was attempted (unknown action, open circuit)
//
// # Lanes
//
// Instructions run in per-target lanes ("lights", "audio", "device:fan").
// A lane runs one instruction at a time in arrival order. A higher
// priority arrival cancels the lane's lower-priority in-flight
// instruction and discards lower-priority queued ones, all of which fail
// with ErrPreempted. Independent lanes run concurrently up to MaxInFlight.
//
// # Failure handling
//
// A failed instruction triggers one degraded-mode audio.say notification,
// attached to the outcome as Followup. Notifications never trigger
// notifications, and preempted instructions do not notify.
//
// Capabilities registered as External get a circuit breaker: Threshold
// consecutive failures inside Window open it for Cooldown, during which
// calls are rejected with ErrCircuitOpen. After the cooldown a single
// trial call is let through.
package dispatch
