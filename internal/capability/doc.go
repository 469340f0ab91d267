// Package capability provides the dispatch handlers that turn instructions
// into side effects.
//
// Actuator capabilities (lights, audio, device, alarm) publish a JSON
// Command on the room's MQTT command tree:
//
//	arvis/{room}/command/lights          lights.on, lights.off, lights.set, lights.animate
//	arvis/{room}/command/audio           audio.say, audio.play
//	arvis/{room}/command/device/{id}     device.on, device.off
//	arvis/{room}/command/alarm           alarm.start, alarm.stop
//
// Broker conditions that may clear on their own are wrapped with
// dispatch.ErrTransient so the dispatcher retries them once. Publishing
// the same command twice leaves the actuator in the same state.
//
// The room.transition capability applies a state change through the
// room manager and is not external.
package capability
