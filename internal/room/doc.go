// Package room owns the occupancy state of the single room Arvis controls.
//
// The Manager is the only writer of RoomState. Every change is validated
// against a fixed transition table and announced on the event broker as
// room.state_changed{from, to, reason}.
//
// Transition table:
//
//	EMPTY    → OCCUPIED   presence or voice
//	OCCUPIED → EMPTY      vacancy timeout
//	OCCUPIED → SLEEP      sleep posture held
//	SLEEP    → OCCUPIED   "still awake", bed exit
//	SLEEP    → WAKE       alarm
//	WAKE     → OCCUPIED   bed exit
//	any      → OCCUPIED   manual override
//
// Self transitions are not in the table and are rejected.
//
// Announcements go out on a dedicated goroutine in the order the changes
// were made, so SetState never blocks on the broker. A handler running on
// a broker worker can request a transition without deadlocking on its own
// queue.
package room
