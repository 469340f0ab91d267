package arbiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/clock"
	"github.com/nerrad567/arvis-core/internal/room"
	"github.com/nerrad567/arvis-core/internal/scene"
)

// ─── Mock Dependencies ────────────────────────────────────────────────

type fakeState struct {
	mu sync.Mutex
	s  room.State
}

func (f *fakeState) State() room.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fakeState) set(s room.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s = s
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []bus.Event
}

func (e *recordingEmitter) Publish(_ context.Context, ev bus.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) drain() []bus.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.events
	e.events = nil
	return out
}

type logLine struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []logLine
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, logLine{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

func (l *recordingLogger) find(msg string) []logLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logLine
	for _, line := range l.lines {
		if line.msg == msg {
			out = append(out, line)
		}
	}
	return out
}

// ─── Harness ──────────────────────────────────────────────────────────

var epoch = time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Occupant:             "Arman",
		SleepDwell:           10 * time.Minute,
		EntryDwell:           0,
		VacancyMinutes:       10,
		SleepMotionThreshold: 0.2,
		MinVoiceConfidence:   0.5,
		Devices:              []string{"desk_lamp", "fan"},
	}
}

// harness drives a Router the way the pipeline does: route a pass, apply
// room transitions, and feed elapsed windows back in.
type harness struct {
	t       *testing.T
	router  *Router
	state   *fakeState
	emitter *recordingEmitter
	clock   *clock.Fake
	logger  *recordingLogger
	history []action.Instruction
}

func newHarness(t *testing.T, initial room.State, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	scenes, err := scene.Load("")
	require.NoError(t, err)

	h := &harness{
		t:       t,
		state:   &fakeState{s: initial},
		emitter: &recordingEmitter{},
		clock:   clock.NewFake(epoch),
		logger:  &recordingLogger{},
	}
	h.router, err = New(Options{
		Config:  cfg,
		State:   h.state,
		Scenes:  scenes,
		Emitter: h.emitter,
		Clock:   h.clock,
		Logger:  h.logger,
	})
	require.NoError(t, err)
	return h
}

// pass routes events as one pass, requiring success.
func (h *harness) pass(events ...bus.Event) []action.Instruction {
	h.t.Helper()
	out, err := h.router.RoutePass(context.Background(), events)
	require.NoError(h.t, err)
	h.apply(out)
	return out
}

func (h *harness) apply(out []action.Instruction) {
	h.t.Helper()
	for _, ins := range out {
		if ins.Action != action.RoomTransition {
			continue
		}
		to := room.State(ins.StringParam("to"))
		require.Truef(h.t, room.CanTransition(h.state.State(), to),
			"router emitted illegal transition %s → %s", h.state.State(), to)
		h.state.set(to)
	}
	h.history = append(h.history, out...)
}

// advance moves the clock and routes any windows that elapsed.
func (h *harness) advance(d time.Duration) []action.Instruction {
	h.t.Helper()
	h.clock.Advance(d)

	var out []action.Instruction
	for _, ev := range h.emitter.drain() {
		out = append(out, h.pass(ev)...)
	}
	return out
}

func event(eventType, source string, payload map[string]any) bus.Event {
	return bus.NewEvent(eventType, source, payload)
}

func voice(text string) bus.Event {
	return event(bus.TypeVoiceCommand, "mic-1", map[string]any{"text": text, "confidence": 0.95})
}

func motion() bus.Event {
	return event(bus.TypePresenceMotion, "pir-1", nil)
}

func lyingInBed(source string) bus.Event {
	return event(bus.TypeVisionPosture, source, map[string]any{"posture": "lying", "zone": "bed", "motion": 0.05})
}

func bedExit() bus.Event {
	return event(bus.TypeVisionBedExit, "cam-1", nil)
}

func alarmTrigger(id string) bus.Event {
	return event(bus.TypeAlarmTrigger, "scheduler", map[string]any{"alarm_id": id})
}

func actions(out []action.Instruction) []string {
	names := make([]string, len(out))
	for i, ins := range out {
		names[i] = ins.Action
	}
	return names
}

func count(out []action.Instruction, match func(action.Instruction) bool) int {
	n := 0
	for _, ins := range out {
		if match(ins) {
			n++
		}
	}
	return n
}

func isAction(id string) func(action.Instruction) bool {
	return func(ins action.Instruction) bool { return ins.Action == id }
}

func isScene(id string) func(action.Instruction) bool {
	return func(ins action.Instruction) bool { return ins.StringParam("scene") == id }
}

func spoken(out []action.Instruction) []string {
	var lines []string
	for _, ins := range out {
		if ins.Action == action.AudioSay {
			lines = append(lines, ins.StringParam("text"))
		}
	}
	return lines
}
