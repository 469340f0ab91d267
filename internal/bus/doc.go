// Package bus is the in-process event broker connecting signal producers,
// the arbitration router and observers such as the debug stream.
//
// Every subscription owns a bounded FIFO queue and one worker goroutine, so
// a handler never runs on the publisher's goroutine and a slow subscriber
// only ever delays itself. Events are deep-copied per subscriber; no
// subscriber can mutate what another one sees.
//
// Backpressure policy depends on the event type:
//   - critical events (room.state_changed, scheduler.*, alarm.*, arbiter.*)
//     block the publisher until they are queued or ctx is done
//   - everything else is dropped for that subscriber when its queue is full,
//     logged at warn and counted in Stats
//
// Patterns are exact types or globs: "presence.*", "*".
//
// Usage:
//
//	b := bus.New(bus.Options{QueueSize: 64})
//	defer b.Close()
//
//	sub, err := b.Subscribe("presence.*", func(ctx context.Context, ev bus.Event) error {
//	    return router.Handle(ctx, ev)
//	})
//
//	err = b.Publish(ctx, bus.NewEvent("presence.motion", "pir-1", nil))
package bus
