// Package api implements the Arvis debug channel: a small HTTP API and a
// WebSocket stream for watching and driving the decision core.
//
// This package provides:
//   - POST /api/v1/debug/events to inject one routing pass and read back
//     the instructions, outcomes and resulting state
//   - read-only views of the room state, debounce windows, broker queues,
//     the MQTT link, dispatcher lanes and breakers, scenes and the outcome log
//   - a WebSocket hub broadcasting passes, outcomes and state changes
//   - bearer-token authentication (JWT, HS256) when a secret is configured
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
