package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/arvis-core/internal/action"
)

// Event types produced and consumed inside Arvis.
const (
	TypeVoiceCommand    = "voice.command"
	TypePresenceMotion  = "presence.motion"
	TypePresenceTimeout = "presence.timeout"
	TypeVisionPosture   = "vision.posture"
	TypeVisionBedExit   = "vision.bed_exit"
	TypeAlarmTrigger    = "scheduler.alarm_trigger"
	TypeManualScene     = "manual.scene"
	TypeManualOverride  = "manual.override"
	TypeStateChanged    = "room.state_changed"
	TypeDebounceElapsed = "arbiter.debounce_elapsed"
)

// Event is an immutable fact published on the broker.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event with a fresh ID and the current UTC time.
// The payload is copied.
func NewEvent(eventType, source string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Payload:   action.CloneParams(payload),
		Timestamp: time.Now().UTC(),
	}
}

// Normalize fills in a missing ID and timestamp.
func (e Event) Normalize(now time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	return e
}

// Clone returns a deep copy.
func (e Event) Clone() Event {
	e.Payload = action.CloneParams(e.Payload)
	return e
}

// Domain returns the part of the type before the first dot.
func (e Event) Domain() string {
	domain, _, _ := strings.Cut(e.Type, ".")
	return domain
}

// Text returns the payload field as a string.
func (e Event) Text(key string) (string, bool) {
	v, ok := e.Payload[key].(string)
	return v, ok
}

// Number returns the payload field as a float64. JSON numbers, Go ints and
// numeric strings are accepted.
func (e Event) Number(key string) (float64, bool) {
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscan(v, &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Object returns the payload field as a nested object.
func (e Event) Object(key string) (map[string]any, bool) {
	v, ok := e.Payload[key].(map[string]any)
	return v, ok
}

// IsCritical reports whether an event type must never be dropped.
func IsCritical(eventType string) bool {
	switch {
	case eventType == TypeStateChanged:
		return true
	case strings.HasPrefix(eventType, "scheduler."),
		strings.HasPrefix(eventType, "alarm."),
		strings.HasPrefix(eventType, "arbiter."):
		return true
	}
	return false
}
