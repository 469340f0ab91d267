// Package logging provides structured logging for Arvis Core.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same shape: JSON in production, text for development,
// and the service and version attributes on every record.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	broker.SetLogger(logger.Component("bus"))
//	logger.Error("transition rejected", "from", "EMPTY", "to", "SLEEP")
//
// Never log voice transcripts at info level or above; they stay at debug.
package logging
