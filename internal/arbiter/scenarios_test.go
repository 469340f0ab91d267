package arbiter

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/room"
	"github.com/nerrad567/arvis-core/internal/scene"
)

func TestScenario_EntryGreeting(t *testing.T) {
	h := newHarness(t, room.Empty)

	out := h.pass(motion())

	assert.Equal(t, []string{action.RoomTransition, action.LightsAnimate, action.AudioSay}, actions(out))
	assert.Equal(t, "golden_shimmer", out[1].StringParam("animation"))
	assert.Equal(t, []string{"Welcome back, Arman"}, spoken(out))
	assert.Equal(t, room.Occupied, h.state.State())

	for _, ins := range out {
		assert.Equal(t, action.PriorityPresence, ins.Priority)
		assert.Equal(t, bus.TypePresenceMotion, ins.Source)
	}
}

func TestScenario_SleepAfterTenStillMinutes(t *testing.T) {
	h := newHarness(t, room.Occupied)

	var all []action.Instruction
	all = append(all, h.pass(lyingInBed("cam-1"))...)
	for minute := 1; minute <= 10; minute++ {
		all = append(all, h.advance(time.Minute)...)
		all = append(all, h.pass(lyingInBed("cam-1"))...)
	}

	assert.Equal(t, 1, count(all, isScene(scene.Sleep)), "exactly one sleep-scene instruction")
	assert.Equal(t, 1, count(all, isAction(action.RoomTransition)))
	assert.Equal(t, room.Sleep, h.state.State())
	assert.Empty(t, h.router.Pending())
}

func TestScenario_VoiceAtMinuteNineCancelsSleep(t *testing.T) {
	h := newHarness(t, room.Occupied)

	var all []action.Instruction
	all = append(all, h.pass(lyingInBed("cam-1"))...)
	for minute := 1; minute <= 10; minute++ {
		all = append(all, h.advance(time.Minute)...)
		if minute == 9 {
			out := h.pass(voice("Lights on"))
			assert.Equal(t, []string{action.LightsOn, action.AudioSay}, actions(out))
			all = append(all, out...)
			continue
		}
		all = append(all, h.pass(lyingInBed("cam-1"))...)
	}

	assert.Zero(t, count(all, isScene(scene.Sleep)), "no sleep instructions after interruption")
	assert.Zero(t, count(all, isAction(action.RoomTransition)))
	assert.Equal(t, room.Occupied, h.state.State())
}

func TestScenario_OnlyBedExitStopsAlarm(t *testing.T) {
	h := newHarness(t, room.Sleep)

	wake := h.pass(alarmTrigger("weekday"))
	require.Equal(t, room.Wake, h.state.State())
	assert.Equal(t, 1, count(wake, isAction(action.AlarmStart)))
	assert.Equal(t, 1, count(wake, isScene(scene.Wake)))

	var all []action.Instruction
	for _, cmd := range []bus.Event{
		voice("stop the alarm"),
		voice("turn off the alarm please"),
		voice("lights on"),
		event(bus.TypeVoiceCommand, "app", map[string]any{"intent": map[string]any{"action": action.AlarmStop}}),
		voice("I'm still awake"),
	} {
		all = append(all, h.pass(cmd)...)
	}
	assert.Zero(t, count(all, isAction(action.AlarmStop)), "voice never stops the alarm")
	assert.Contains(t, spoken(all), "Get out of bed to stop the alarm.")
	assert.Equal(t, room.Wake, h.state.State())

	out := h.pass(bedExit())
	require.Equal(t, 1, count(out, isAction(action.AlarmStop)))
	for _, ins := range out {
		if ins.Action == action.AlarmStop {
			assert.Equal(t, bus.TypeVisionBedExit, ins.Source)
			assert.Equal(t, "weekday", ins.StringParam("alarm_id"))
		}
	}
	assert.Equal(t, room.Occupied, h.state.State())
	assert.Empty(t, h.router.ActiveAlarm())

	again := h.pass(bedExit())
	assert.Zero(t, count(again, isAction(action.AlarmStop)), "alarm stops exactly once")
}

func TestScenario_AlarmInOnePassWithVoice(t *testing.T) {
	h := newHarness(t, room.Sleep)
	h.pass(alarmTrigger("weekday"))

	out := h.pass(
		voice("stop alarm"), voice("lights on"), bedExit(), voice("snooze the alarm"), voice("status"), voice("lights off"),
	)

	assert.Equal(t, 1, count(out, isAction(action.AlarmStop)))
	assert.Equal(t, room.Occupied, h.state.State())
}

func TestPriorityLaw_ManualFocusBeatsAutomaticExit(t *testing.T) {
	h := newHarness(t, room.Occupied)

	out := h.pass(
		event(bus.TypePresenceTimeout, "pir-1", map[string]any{"minutes": 15}),
		voice("focus mode"),
	)

	assert.Zero(t, count(out, isScene(scene.Exit)), "automatic exit scene suppressed")
	assert.Equal(t, 1, count(out, isScene(scene.Focus)))
	assert.Zero(t, count(out, isAction(action.RoomTransition)))
	assert.Equal(t, room.Occupied, h.state.State())
}

func TestPriorityLaw_HigherPriorityEventOwnsTarget(t *testing.T) {
	h := newHarness(t, room.Occupied)

	out := h.pass(
		event(bus.TypeManualScene, "panel", map[string]any{"scene": scene.Cozy}),
		voice("lights off"),
	)

	assert.Zero(t, count(out, isScene(scene.Cozy)))
	assert.Equal(t, 1, count(out, isAction(action.LightsOff)))
}

func TestPriorityLaw_TieGoesToMostRecent(t *testing.T) {
	h := newHarness(t, room.Occupied)

	out := h.pass(voice("lights on"), voice("lights off"))

	assert.Equal(t, []string{action.LightsOff, action.AudioSay}, actions(out))
	assert.Equal(t, []string{"Lights off."}, spoken(out))
}

func TestOverrideLaw_StillAwakeCancelsSleepWindow(t *testing.T) {
	h := newHarness(t, room.Occupied)

	h.pass(lyingInBed("cam-1"))
	h.advance(9 * time.Minute)
	require.Len(t, h.router.Pending(), 1)

	out := h.pass(voice("I'm still awake"))
	assert.Equal(t, []string{"Okay."}, spoken(out))
	assert.Empty(t, h.router.Pending())

	later := h.advance(2 * time.Minute)
	assert.Empty(t, later)
	assert.Equal(t, room.Occupied, h.state.State())
}

func TestReachability_RandomSequencesStayOnLegalEdges(t *testing.T) {
	generators := []func() bus.Event{
		motion,
		func() bus.Event { return lyingInBed("cam-1") },
		func() bus.Event { return lyingInBed("cam-2") },
		bedExit,
		func() bus.Event { return alarmTrigger("weekday") },
		func() bus.Event { return voice("lights on") },
		func() bus.Event { return voice("I'm still awake") },
		func() bus.Event { return voice("stop the alarm") },
		func() bus.Event {
			return event(bus.TypePresenceTimeout, "pir-1", map[string]any{"minutes": 12})
		},
		func() bus.Event {
			return event(bus.TypeVisionPosture, "cam-1", map[string]any{"posture": "sitting", "zone": "desk"})
		},
		func() bus.Event { return event(bus.TypeManualOverride, "panel", nil) },
		func() bus.Event {
			return event(bus.TypeManualScene, "panel", map[string]any{"scene": scene.Cozy})
		},
	}

	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		h := newHarness(t, room.Empty)

		for step := 0; step < 200; step++ {
			n := 1 + rng.Intn(3)
			events := make([]bus.Event, n)
			for i := range events {
				events[i] = generators[rng.Intn(len(generators))]()
			}
			out := h.pass(events...) // apply() fails the test on any illegal edge
			for _, ins := range out {
				if ins.Action == action.AlarmStop {
					require.Equal(t, bus.TypeVisionBedExit, ins.Source, "seed %d", seed)
				}
			}
			h.advance(time.Duration(rng.Intn(4)) * time.Minute)
		}
	}
}
