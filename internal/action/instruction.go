package action

import (
	"fmt"
	"strings"
)

// Action identifiers understood by the dispatcher.
const (
	LightsOn      = "lights.on"
	LightsOff     = "lights.off"
	LightsSet     = "lights.set"
	LightsAnimate = "lights.animate"

	AudioSay  = "audio.say"
	AudioPlay = "audio.play"

	DeviceOn  = "device.on"
	DeviceOff = "device.off"

	AlarmStart = "alarm.start"
	AlarmStop  = "alarm.stop"

	RoomTransition = "room.transition"
)

// Priority ladder.
const (
	PriorityVoice    = 100
	PriorityAlarm    = 90
	PriorityManual   = 80
	PriorityVision   = 40
	PriorityPresence = 30
	PrioritySystem   = 20
	PriorityAmbient  = 10
)

// Target resources.
const (
	TargetLights = "lights"
	TargetAudio  = "audio"
	TargetAlarm  = "alarm"
	TargetRoom   = "room"
)

// Instruction is one prioritised request for a side effect.
// Treat it as immutable once produced.
type Instruction struct {
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
	Priority int            `json:"priority"`
	// Source is the type of the event that produced the instruction.
	Source string `json:"source,omitempty"`
	// Cause is the ID of that event.
	Cause string `json:"cause,omitempty"`
	// Seq is the production order inside one routing pass.
	Seq int `json:"seq"`
}

// New builds an instruction with a private copy of params.
func New(actionID string, params map[string]any, priority int) Instruction {
	return Instruction{
		Action:   actionID,
		Params:   CloneParams(params),
		Priority: priority,
	}
}

// Target derives the resource the instruction occupies.
// Device actions occupy one lane per device.
func (i Instruction) Target() string {
	domain, _, _ := strings.Cut(i.Action, ".")
	if domain == "device" {
		return "device:" + i.StringParam("device")
	}
	return domain
}

// Automatic reports whether the instruction came from sensor-driven logic
// rather than a person.
func (i Instruction) Automatic() bool {
	return i.Priority < PriorityManual
}

// Degraded reports whether the instruction is a failure notification.
func (i Instruction) Degraded() bool {
	v, _ := i.Params["degraded"].(bool)
	return v
}

// StringParam returns params[key] when it is a string.
func (i Instruction) StringParam(key string) string {
	v, _ := i.Params[key].(string)
	return v
}

// Clone returns a copy whose params can be modified freely.
func (i Instruction) Clone() Instruction {
	i.Params = CloneParams(i.Params)
	return i
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s(p%d #%d)", i.Action, i.Priority, i.Seq)
}

// CloneParams deep-copies a params or payload map.
func CloneParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneParams(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
