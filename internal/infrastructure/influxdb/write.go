package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by Arvis.
const (
	MeasurementOutcome    = "instruction_outcome"
	MeasurementTransition = "room_transition"
	MeasurementDrop       = "event_drop"
)

// OutcomePoint describes one terminal instruction outcome.
// Tags stay low cardinality: no instruction or event IDs.
type OutcomePoint struct {
	Room     string
	Action   string
	Target   string
	Status   string
	Priority int
	Attempts int
	Degraded bool
	Latency  time.Duration
	Finished time.Time
}

// WriteOutcome records how an instruction finished and how long it took.
//
// Example:
//
//	client.WriteOutcome(influxdb.OutcomePoint{
//	    Room: "bedroom", Action: "lights.animate", Target: "lights",
//	    Status: "succeeded", Attempts: 1, Latency: 40 * time.Millisecond,
//	})
func (c *Client) WriteOutcome(p OutcomePoint) {
	if !c.IsConnected() {
		return
	}

	finished := p.Finished
	if finished.IsZero() {
		finished = time.Now()
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementOutcome,
		map[string]string{
			"room":   p.Room,
			"action": p.Action,
			"target": p.Target,
			"status": p.Status,
		},
		map[string]any{
			"priority":   p.Priority,
			"attempts":   p.Attempts,
			"degraded":   p.Degraded,
			"latency_ms": float64(p.Latency) / float64(time.Millisecond),
		},
		finished,
	))
}

// WriteTransition records a room state change.
func (c *Client) WriteTransition(room, from, to, reason string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementTransition,
		map[string]string{
			"room": room,
			"from": from,
			"to":   to,
		},
		map[string]any{
			"reason": reason,
			"count":  1,
		},
		at,
	))
}

// WriteDrop counts an event the broker shed under backpressure.
func (c *Client) WriteDrop(room, eventType, subscriber string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementDrop,
		map[string]string{
			"room":       room,
			"event_type": eventType,
			"subscriber": subscriber,
		},
		map[string]any{"count": 1},
		at,
	))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
