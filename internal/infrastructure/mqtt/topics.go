package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the Arvis MQTT topic tree for one room.
//
// Layout:
//
//	{prefix}/{room}/signal/{event_type}/{source}   producers → core
//	{prefix}/{room}/command/{capability}[/{id}]    core → actuators
//	{prefix}/{room}/event/{event_type}             core → observers
//	{prefix}/{room}/status                         core online/offline (retained, LWT)
//
// Using these helpers keeps topic naming consistent between ingest and
// the capability handlers.
type Topics struct {
	Prefix string
	Room   string
}

// NewTopics returns a builder for prefix and room.
func NewTopics(prefix, room string) Topics {
	return Topics{Prefix: prefix, Room: room}
}

func (t Topics) base() string {
	return t.Prefix + "/" + t.Room
}

// Signal returns the topic a producer publishes an event on.
//
// Example: arvis/bedroom/signal/vision.posture/camera-1
func (t Topics) Signal(eventType, source string) string {
	return fmt.Sprintf("%s/signal/%s/%s", t.base(), eventType, source)
}

// AllSignals returns the pattern matching every producer signal.
//
// Pattern: arvis/bedroom/signal/+/+
func (t Topics) AllSignals() string {
	return t.base() + "/signal/+/+"
}

// ParseSignal extracts the event type and source from a signal topic.
func (t Topics) ParseSignal(topic string) (eventType, source string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.base()+"/signal/")
	if !found {
		return "", "", false
	}
	eventType, source, found = strings.Cut(rest, "/")
	if !found || eventType == "" || source == "" || strings.Contains(source, "/") {
		return "", "", false
	}
	return eventType, source, true
}

// Command returns the actuator command topic for a capability.
// An optional id narrows it to one device.
//
// Examples: arvis/bedroom/command/lights, arvis/bedroom/command/device/fan
func (t Topics) Command(capability string, id ...string) string {
	topic := fmt.Sprintf("%s/command/%s", t.base(), capability)
	for _, part := range id {
		if part != "" {
			topic += "/" + part
		}
	}
	return topic
}

// Event returns the topic core mirrors an internal event on.
//
// Example: arvis/bedroom/event/room.state_changed
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", t.base(), eventType)
}

// Status returns the retained online/offline topic.
//
// Example: arvis/bedroom/status
func (t Topics) Status() string {
	return t.base() + "/status"
}
