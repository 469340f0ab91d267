// Package influxdb provides InfluxDB connectivity for Arvis Core.
//
// It wraps the official influxdb-client-go v2 library and exposes a few
// typed writers for the telemetry Arvis produces:
//   - instruction outcomes (status, attempts, latency)
//   - room state transitions
//   - events shed by the broker under backpressure
//
// Raw sensor signals are never written.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteTransition("bedroom", "OCCUPIED", "SLEEP", "sleep posture held", time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval; async errors go to the SetOnError callback.
package influxdb
