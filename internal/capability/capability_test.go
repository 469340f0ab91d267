package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/dispatch"
	"github.com/nerrad567/arvis-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/arvis-core/internal/room"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type published struct {
	topic string
	cmd   Command
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) PublishJSON(topic string, v any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic: topic, cmd: v.(Command)})
	return nil
}

type fakeRoom struct {
	state room.State
	calls int
	err   error
}

func (f *fakeRoom) State() room.State { return f.state }

func (f *fakeRoom) SetState(_ context.Context, to room.State, reason string) (room.Change, error) {
	f.calls++
	if f.err != nil {
		return room.Change{}, f.err
	}
	c := room.Change{From: f.state, To: to, Reason: reason}
	f.state = to
	return c, nil
}

type infoLog struct{ msgs []string }

func (l *infoLog) Info(msg string, args ...any) {
	l.msgs = append(l.msgs, fmt.Sprint(append([]any{msg}, args...)...))
}

func newActuators(pub Publisher) *Actuators {
	a := NewActuators(pub, mqtt.NewTopics("arvis", "bedroom"))
	a.now = func() time.Time { return time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC) }
	return a
}

// ─── Actuators ─────────────────────────────────────────────────────

func TestActuators_Topics(t *testing.T) {
	tests := []struct {
		action string
		params map[string]any
		topic  string
	}{
		{action.LightsAnimate, map[string]any{"animation": "golden_shimmer"}, "arvis/bedroom/command/lights"},
		{action.LightsOff, nil, "arvis/bedroom/command/lights"},
		{action.AudioSay, map[string]any{"text": "Welcome back"}, "arvis/bedroom/command/audio"},
		{action.AudioPlay, map[string]any{"sound": "alarm_chime"}, "arvis/bedroom/command/audio"},
		{action.DeviceOn, map[string]any{"device": "fan"}, "arvis/bedroom/command/device/fan"},
		{action.AlarmStop, map[string]any{"alarm_id": "a1"}, "arvis/bedroom/command/alarm"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			pub := &fakePublisher{}
			err := newActuators(pub).Handler(tt.action).Invoke(context.Background(), tt.params)
			require.NoError(t, err)
			require.Len(t, pub.sent, 1)
			assert.Equal(t, tt.topic, pub.sent[0].topic)
			assert.Equal(t, tt.action, pub.sent[0].cmd.Action)
		})
	}
}

func TestActuators_CommandPayload(t *testing.T) {
	pub := &fakePublisher{}
	err := newActuators(pub).Handler(action.LightsSet).Invoke(context.Background(),
		map[string]any{"state": "on", "brightness": 40, "color": "warm_white"})
	require.NoError(t, err)

	raw, err := json.Marshal(pub.sent[0].cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"action": "lights.set",
		"params": {"state": "on", "brightness": 40, "color": "warm_white"},
		"issued": "2026-03-01T07:00:00Z"
	}`, string(raw))
}

func TestActuators_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		action string
		params map[string]any
	}{
		{"say without text", action.AudioSay, map[string]any{"text": "  "}},
		{"play without sound", action.AudioPlay, nil},
		{"animate without animation", action.LightsAnimate, nil},
		{"device without id", action.DeviceOn, nil},
		{"device with wildcard", action.DeviceOff, map[string]any{"device": "fan/#"}},
		{"brightness out of range", action.LightsSet, map[string]any{"brightness": 150}},
		{"brightness not a number", action.LightsSet, map[string]any{"brightness": "bright"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			err := newActuators(pub).Handler(tt.action).Invoke(context.Background(), tt.params)
			assert.ErrorIs(t, err, ErrInvalidParams)
			assert.False(t, dispatch.IsTransient(err))
			assert.Empty(t, pub.sent)
		})
	}
}

func TestActuators_BrokerErrorsAreTransient(t *testing.T) {
	for _, brokerErr := range []error{mqtt.ErrNotConnected, mqtt.ErrTimeout, fmt.Errorf("%w: nack", mqtt.ErrPublishFailed)} {
		pub := &fakePublisher{err: brokerErr}
		err := newActuators(pub).Handler(action.LightsOn).Invoke(context.Background(), nil)
		assert.ErrorIs(t, err, dispatch.ErrTransient, brokerErr.Error())
		assert.ErrorIs(t, err, brokerErr)
	}

	pub := &fakePublisher{err: mqtt.ErrPayloadTooLarge}
	err := newActuators(pub).Handler(action.LightsOn).Invoke(context.Background(), nil)
	assert.False(t, dispatch.IsTransient(err))
}

func TestActuators_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := &fakePublisher{}
	err := newActuators(pub).Handler(action.LightsOn).Invoke(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.sent)
}

// ─── Room transition ───────────────────────────────────────────────

func TestRoomTransition(t *testing.T) {
	r := &fakeRoom{state: room.Empty}
	h := RoomTransition(r)

	err := h.Invoke(context.Background(), map[string]any{"from": "EMPTY", "to": "OCCUPIED", "reason": "motion"})
	require.NoError(t, err)
	assert.Equal(t, room.Occupied, r.state)

	// Redelivery is a no-op.
	require.NoError(t, h.Invoke(context.Background(), map[string]any{"to": "OCCUPIED"}))
	assert.Equal(t, 1, r.calls)
}

func TestRoomTransition_Errors(t *testing.T) {
	r := &fakeRoom{state: room.Empty}
	err := RoomTransition(r).Invoke(context.Background(), map[string]any{"to": "DANCING"})
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.ErrorIs(t, err, room.ErrUnknownState)

	r.err = room.ErrInvalidTransition
	err = RoomTransition(r).Invoke(context.Background(), map[string]any{"to": "SLEEP"})
	assert.ErrorIs(t, err, room.ErrInvalidTransition)
}

// ─── Registry ──────────────────────────────────────────────────────

func TestCapabilities_BuildRegistry(t *testing.T) {
	caps := Capabilities(newActuators(&fakePublisher{}), &fakeRoom{state: room.Empty})

	reg, err := dispatch.NewRegistry(caps...)
	require.NoError(t, err)
	assert.Equal(t, len(ActuatorActions)+1, reg.Len())

	c, ok := reg.Lookup(action.RoomTransition)
	require.True(t, ok)
	assert.False(t, c.External)

	c, ok = reg.Lookup(action.DeviceOn)
	require.True(t, ok)
	assert.True(t, c.External)
}

func TestLogPublisher(t *testing.T) {
	log := &infoLog{}
	err := LogPublisher{Logger: log}.PublishJSON("arvis/bedroom/command/lights", Command{Action: action.LightsOn})
	require.NoError(t, err)
	require.Len(t, log.msgs, 1)
	assert.Contains(t, log.msgs[0], "lights.on")

	err = LogPublisher{Logger: log}.PublishJSON("t", make(chan int))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidParams))
}
