// Package pipeline connects the router to the dispatcher.
//
// An Engine receives events from the broker (or the debug channel),
// routes them as one pass and applies the resulting instructions:
//
//   - room.transition instructions run synchronously, so the next pass
//     sees the committed state
//   - every other instruction is submitted to its dispatcher lane
//
// Passes are serialised. Waiting for actuator outcomes happens outside
// the pass lock, so a slow speaker never delays routing.
package pipeline
