// Package ingest bridges MQTT and the event broker.
//
// Producers publish on arvis/{room}/signal/{event_type}/{source}. The
// body is either an envelope
//
//	{"id": "...", "timestamp": "...", "payload": {...}}
//
// or, for simple producers, the payload object itself. An empty body is
// an event without payload. The bridge stamps missing IDs and timestamps
// and publishes the event on the broker.
//
// In the other direction, Mirror republishes selected broker events on
// arvis/{room}/event/{event_type} for dashboards and other observers.
package ingest
