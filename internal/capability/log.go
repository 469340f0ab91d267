package capability

import "encoding/json"

// Logger is the logging interface used by LogPublisher.
type Logger interface {
	Info(msg string, args ...any)
}

// LogPublisher writes commands to the log instead of a broker.
// It stands in for MQTT when the broker is disabled.
type LogPublisher struct {
	Logger Logger
}

// PublishJSON logs the command.
func (p LogPublisher) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.Logger.Info("command", "topic", topic, "payload", string(payload))
	return nil
}
