// Package arbiter turns events into ordered, prioritised instructions.
//
// The Router is the decision point of Arvis. For every routing pass (one
// event, or several treated as simultaneous) it reads the room state,
// consults its debounce table and override flags, and returns the
// instructions the dispatcher should run, in production order.
//
// # Classes
//
// Events are classified and, within a pass, routed in class order:
//
//	voice      voice.*                           top precedence, no delay
//	elapsed    arbiter.debounce_elapsed          commits before alarms see the state
//	scheduler  scheduler.*                       alarms
//	system     room.state_changed,               bookkeeping and manual input
//	           manual.scene, manual.override
//	vision     vision.*                          posture, bed exit
//	presence   presence.*                        motion, vacancy
//
// A voice command cancels every pending automatic window and, when it
// shares a pass with presence or vision events, those events produce no
// room transitions.
//
// # Debounce windows
//
// Automatic transitions are staged under a (source, candidate) key and
// only committed after their dwell elapses uninterrupted. At most one
// window exists per key; a duplicate qualifying signal is a no-op and does
// not extend the deadline. When the timer fires the router publishes
// arbiter.debounce_elapsed{key, generation}; routing that event commits
// the transition only if the generation still matches.
//
// # Overrides
//
// Voice and manual instructions on lights or a device set an override
// flag for that target. While set, automatic instructions (priority below
// 80) on the target are suppressed. Flags clear when the room goes from
// EMPTY to OCCUPIED or enters SLEEP.
//
// # Conflicts
//
// When several events in a pass produce instructions for the same target,
// the event owning the highest-priority instruction keeps its
// instructions for that target; ties go to the most recently produced.
// Room transitions are validated against the state projected through the
// pass rather than resolved by priority. Losing instructions are logged
// and returned in Decision.Suppressed.
package arbiter
