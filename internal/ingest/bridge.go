package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/infrastructure/mqtt"
)

const publishTimeout = 5 * time.Second

// Subscriber receives MQTT messages. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// JSONPublisher sends JSON payloads. *mqtt.Client satisfies it.
type JSONPublisher interface {
	PublishJSON(topic string, v any) error
}

// Broker accepts events. *bus.Broker satisfies it.
type Broker interface {
	Publish(ctx context.Context, ev bus.Event) error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Bridge.
type Options struct {
	Topics    mqtt.Topics
	QoS       byte
	Broker    Broker
	Publisher JSONPublisher
	Logger    Logger
	Now       func() time.Time
}

// Bridge moves signals from MQTT onto the broker and mirrors events back.
type Bridge struct {
	topics mqtt.Topics
	qos    byte
	broker Broker
	pub    JSONPublisher
	logger Logger
	now    func() time.Time
}

// envelope is the optional wrapper around a signal payload.
type envelope struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New creates a bridge.
func New(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bridge{
		topics: opts.Topics,
		qos:    opts.QoS,
		broker: opts.Broker,
		pub:    opts.Publisher,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Start subscribes to every signal topic of the room.
func (b *Bridge) Start(sub Subscriber) error {
	if err := sub.Subscribe(b.topics.AllSignals(), b.qos, b.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to signals: %w", err)
	}
	return nil
}

// HandleMessage converts one MQTT message and publishes it on the broker.
// It runs on the MQTT client's goroutine.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	ev, err := b.Decode(topic, payload)
	if err != nil {
		b.logger.Warn("discarding signal", "topic", topic, "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.broker.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publishing %s: %w", ev.Type, err)
	}
	b.logger.Debug("signal ingested", "type", ev.Type, "source", ev.Source, "id", ev.ID)
	return nil
}

// Decode turns a signal topic and body into an event.
func (b *Bridge) Decode(topic string, body []byte) (bus.Event, error) {
	eventType, source, ok := b.topics.ParseSignal(topic)
	if !ok {
		return bus.Event{}, fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}

	ev := bus.Event{Type: eventType, Source: source}
	body = bytes.TrimSpace(body)
	if len(body) > 0 {
		payload, env, err := decodeBody(body)
		if err != nil {
			return bus.Event{}, err
		}
		ev.ID = env.ID
		ev.Timestamp = env.Timestamp
		ev.Payload = payload
	}
	return ev.Normalize(b.now()), nil
}

func decodeBody(body []byte) (map[string]any, envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, envelope{}, ErrBadPayload
	}

	if raw, wrapped := fields["payload"]; wrapped && isObject(raw) {
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, envelope{}, fmt.Errorf("%w: %w", ErrBadPayload, err)
		}
		var payload map[string]any
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, envelope{}, fmt.Errorf("%w: %w", ErrBadPayload, err)
		}
		return payload, env, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, envelope{}, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	return payload, envelope{}, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// Mirror returns a broker handler that republishes events on the MQTT
// event tree. Publish failures are returned to the broker's error hook.
func (b *Bridge) Mirror() bus.Handler {
	return func(_ context.Context, ev bus.Event) error {
		if b.pub == nil {
			return nil
		}
		if err := b.pub.PublishJSON(b.topics.Event(ev.Type), ev); err != nil {
			return fmt.Errorf("mirroring %s: %w", ev.Type, err)
		}
		return nil
	}
}
