// Package outcome keeps the record of what the dispatcher did.
//
// Every terminal dispatch.Outcome, degraded-mode notifications included,
// is written to the SQLite outcomes table and, when InfluxDB is enabled,
// as an instruction_outcome point. Room transitions and broker drops are
// sent to InfluxDB as well.
//
// The Recorder never fails the dispatcher: storage errors are logged.
package outcome
