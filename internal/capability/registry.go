package capability

import (
	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/dispatch"
)

// ActuatorActions are the actions published over MQTT.
var ActuatorActions = []string{
	action.LightsOn,
	action.LightsOff,
	action.LightsSet,
	action.LightsAnimate,
	action.AudioSay,
	action.AudioPlay,
	action.DeviceOn,
	action.DeviceOff,
	action.AlarmStart,
	action.AlarmStop,
}

// Capabilities returns the full capability set for one room.
//
// Parameters:
//   - actuators: MQTT publisher for lights, audio, devices and alarm
//   - states: Room state owner for room.transition
//
// Returns:
//   - []dispatch.Capability: Ready for dispatch.NewRegistry
func Capabilities(actuators *Actuators, states StateSetter) []dispatch.Capability {
	caps := make([]dispatch.Capability, 0, len(ActuatorActions)+1)
	for _, a := range ActuatorActions {
		caps = append(caps, dispatch.Capability{
			Action:   a,
			Handler:  actuators.Handler(a),
			External: true,
		})
	}
	return append(caps, dispatch.Capability{
		Action:  action.RoomTransition,
		Handler: RoomTransition(states),
	})
}
