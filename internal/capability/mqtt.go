package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/dispatch"
	"github.com/nerrad567/arvis-core/internal/infrastructure/mqtt"
)

// Publisher sends a JSON payload. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Command is the payload published to actuators.
type Command struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
	Issued time.Time      `json:"issued"`
}

// Actuators publishes actuator commands over MQTT.
type Actuators struct {
	pub    Publisher
	topics mqtt.Topics
	now    func() time.Time
}

// NewActuators creates the MQTT-backed actuator handlers.
func NewActuators(pub Publisher, topics mqtt.Topics) *Actuators {
	return &Actuators{pub: pub, topics: topics, now: time.Now}
}

// Handler returns the handler for one actuator action.
func (a *Actuators) Handler(actionID string) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, params map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		topic, err := a.topic(actionID, params)
		if err != nil {
			return err
		}
		if err := validate(actionID, params); err != nil {
			return err
		}

		cmd := Command{Action: actionID, Params: params, Issued: a.now().UTC()}
		if err := a.pub.PublishJSON(topic, cmd); err != nil {
			if mqtt.IsTransient(err) {
				return fmt.Errorf("%w: %w", dispatch.ErrTransient, err)
			}
			return fmt.Errorf("publishing %s: %w", actionID, err)
		}
		return nil
	})
}

func (a *Actuators) topic(actionID string, params map[string]any) (string, error) {
	domain, _, _ := strings.Cut(actionID, ".")
	if domain != "device" {
		return a.topics.Command(domain), nil
	}
	id := text(params, "device")
	if id == "" || strings.ContainsAny(id, "/+#") {
		return "", fmt.Errorf("%w: %s needs a device id, got %q", ErrInvalidParams, actionID, id)
	}
	return a.topics.Command(domain, id), nil
}

// required lists the params each action cannot do without.
var required = map[string][]string{
	action.LightsAnimate: {"animation"},
	action.AudioSay:      {"text"},
	action.AudioPlay:     {"sound"},
}

func validate(actionID string, params map[string]any) error {
	for _, key := range required[actionID] {
		if text(params, key) == "" {
			return fmt.Errorf("%w: %s needs %q", ErrInvalidParams, actionID, key)
		}
	}
	if actionID == action.LightsSet {
		if v, ok := params["brightness"]; ok {
			b, ok := number(v)
			if !ok || b < 0 || b > 100 {
				return fmt.Errorf("%w: brightness %v outside 0-100", ErrInvalidParams, v)
			}
		}
	}
	return nil
}

func text(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
