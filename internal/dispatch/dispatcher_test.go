package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/clock"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type recorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recorder) Record(_ context.Context, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

// countingHandler returns errs in order, then nil.
type countingHandler struct {
	calls atomic.Int32
	errs  []error
}

func (h *countingHandler) Invoke(context.Context, map[string]any) error {
	n := int(h.calls.Add(1))
	if n <= len(h.errs) {
		return h.errs[n-1]
	}
	return nil
}

// blockingHandler signals started and waits for release or cancellation.
type blockingHandler struct {
	started chan string
	release chan struct{}
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{started: make(chan string, 8), release: make(chan struct{})}
}

func (h *blockingHandler) Invoke(ctx context.Context, params map[string]any) error {
	name, _ := params["name"].(string)
	h.started <- name
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type temporary struct{}

func (temporary) Error() string   { return "temporary" }
func (temporary) Transient() bool { return true }

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

func noop() Handler {
	return HandlerFunc(func(context.Context, map[string]any) error { return nil })
}

func newDispatcher(t *testing.T, opts Options, caps ...Capability) (*Dispatcher, *recorder) {
	t.Helper()
	reg, err := NewRegistry(caps...)
	require.NoError(t, err)

	rec := &recorder{}
	opts.Recorder = rec
	if opts.RetryDelay == 0 {
		opts.RetryDelay = -1
	}
	d, err := New(reg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d, rec
}

func instr(actionID string, priority int, params map[string]any) action.Instruction {
	ins := action.New(actionID, params, priority)
	ins.Cause = "ev-1"
	return ins
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func waitStarted(t *testing.T, h *blockingHandler) string {
	t.Helper()
	select {
	case name := <-h.started:
		return name
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
		return ""
	}
}

// ─── Registry ──────────────────────────────────────────────────────

func TestNewRegistry(t *testing.T) {
	_, err := NewRegistry()
	assert.ErrorIs(t, err, ErrEmptyRegistry)

	_, err = NewRegistry(Capability{Action: action.LightsOn})
	assert.ErrorIs(t, err, ErrInvalidCapability)

	_, err = NewRegistry(
		Capability{Action: action.LightsOn, Handler: noop()},
		Capability{Action: action.LightsOn, Handler: noop()},
	)
	assert.ErrorIs(t, err, ErrDuplicateAction)

	reg, err := NewRegistry(
		Capability{Action: action.LightsOn, Handler: noop()},
		Capability{Action: action.AudioSay, Handler: noop()},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{action.AudioSay, action.LightsOn}, reg.Actions())
	assert.Equal(t, 2, reg.Len())
}

func TestNew_EmptyRegistryIsFatal(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyRegistry)
}

// ─── Execution ─────────────────────────────────────────────────────

func TestExecute_Succeeds(t *testing.T) {
	h := &countingHandler{}
	d, rec := newDispatcher(t, Options{}, Capability{Action: action.LightsOn, Handler: h})

	out := d.Execute(context.Background(), instr(action.LightsOn, action.PriorityVoice, nil))

	assert.Equal(t, StatusSucceeded, out.Status)
	assert.True(t, out.OK())
	assert.Equal(t, 1, out.Attempts)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, action.LightsOn, out.Instruction.Action)
	assert.Nil(t, out.Followup)
	require.Len(t, rec.all(), 1)
}

func TestExecute_UnknownActionRejected(t *testing.T) {
	h := &countingHandler{}
	d, rec := newDispatcher(t, Options{}, Capability{Action: action.LightsOn, Handler: h})

	out := d.Execute(context.Background(), instr("lights.disco", action.PriorityVoice, nil))

	assert.Equal(t, StatusRejected, out.Status)
	assert.ErrorIs(t, out.Err, ErrUnknownAction)
	assert.Zero(t, h.calls.Load(), "no side effect")
	assert.Len(t, rec.all(), 1, "rejections are recorded")
}

func TestExecute_TransientRetriedOnce(t *testing.T) {
	h := &countingHandler{errs: []error{fmt.Errorf("publish: %w", ErrTransient)}}
	d, _ := newDispatcher(t, Options{}, Capability{Action: action.LightsOn, Handler: h})

	out := d.Execute(context.Background(), instr(action.LightsOn, action.PriorityVoice, nil))

	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.EqualValues(t, 2, h.calls.Load())
}

func TestExecute_PersistentFailureNotifiesOnce(t *testing.T) {
	lights := &countingHandler{errs: []error{ErrTransient, ErrTransient}}
	say := &countingHandler{}
	d, rec := newDispatcher(t, Options{},
		Capability{Action: action.LightsOn, Handler: lights},
		Capability{Action: action.AudioSay, Handler: say},
	)

	out := d.Execute(context.Background(), instr(action.LightsOn, action.PriorityVoice, nil))

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrPersistentFailure)
	assert.Equal(t, ErrPersistentFailure.Error(), out.Reason)
	assert.Equal(t, 2, out.Attempts)

	require.NotNil(t, out.Followup)
	assert.Equal(t, StatusSucceeded, out.Followup.Status)
	assert.Equal(t, action.AudioSay, out.Followup.Instruction.Action)
	assert.True(t, out.Followup.Instruction.Degraded())
	assert.Equal(t, action.LightsOn, out.Followup.Instruction.StringParam("failed_action"))
	assert.Equal(t, "ev-1", out.Followup.Instruction.Cause)
	assert.EqualValues(t, 1, say.calls.Load())

	assert.Len(t, rec.all(), 2, "failure and notification both recorded")
}

func TestExecute_NotificationNeverRecurses(t *testing.T) {
	say := &countingHandler{errs: []error{errors.New("speaker offline"), errors.New("speaker offline")}}
	d, rec := newDispatcher(t, Options{}, Capability{Action: action.AudioSay, Handler: say})

	out := d.Execute(context.Background(), instr(action.AudioSay, action.PriorityVoice, map[string]any{"text": "hi"}))

	assert.Equal(t, StatusFailed, out.Status)
	require.NotNil(t, out.Followup)
	assert.Equal(t, StatusFailed, out.Followup.Status)
	assert.Nil(t, out.Followup.Followup)
	assert.EqualValues(t, 2, say.calls.Load())
	assert.Len(t, rec.all(), 2)
}

func TestExecute_DegradedInstructionDoesNotNotify(t *testing.T) {
	say := &countingHandler{errs: []error{errors.New("speaker offline")}}
	d, _ := newDispatcher(t, Options{}, Capability{Action: action.AudioSay, Handler: say})

	out := d.Execute(context.Background(), instr(action.AudioSay, action.PriorityVoice,
		map[string]any{"text": "hi", "degraded": true}))

	assert.Equal(t, StatusFailed, out.Status)
	assert.Nil(t, out.Followup)
}

func TestExecute_NonTransientNotRetried(t *testing.T) {
	h := &countingHandler{errs: []error{errors.New("bad params")}}
	d, _ := newDispatcher(t, Options{}, Capability{Action: action.LightsOn, Handler: h})

	out := d.Execute(context.Background(), instr(action.LightsOn, action.PriorityVoice, nil))

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.NotErrorIs(t, out.Err, ErrPersistentFailure)
	assert.Nil(t, out.Followup, "no audio.say capability registered")
}

func TestExecute_HandlerTimeoutIsTransient(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, _ map[string]any) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d, _ := newDispatcher(t, Options{HandlerTimeout: 10 * time.Millisecond},
		Capability{Action: action.LightsOn, Handler: h})

	out := d.Execute(context.Background(), instr(action.LightsOn, action.PriorityVoice, nil))

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.ErrorIs(t, out.Err, ErrPersistentFailure)
}

func TestExecute_HandlerPanicIsContained(t *testing.T) {
	h := HandlerFunc(func(context.Context, map[string]any) error { panic("boom") })
	d, _ := newDispatcher(t, Options{}, Capability{Action: action.LightsOn, Handler: h})

	out := d.Execute(context.Background(), instr(action.LightsOn, action.PriorityVoice, nil))

	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Err.Error(), "boom")
}

func TestExecute_HandlerCannotMutateInstruction(t *testing.T) {
	h := HandlerFunc(func(_ context.Context, p map[string]any) error {
		p["brightness"] = 0
		return nil
	})
	d, _ := newDispatcher(t, Options{}, Capability{Action: action.LightsSet, Handler: h})

	ins := instr(action.LightsSet, action.PriorityVoice, map[string]any{"brightness": 80})
	out := d.Execute(context.Background(), ins)

	assert.Equal(t, 80, out.Instruction.Params["brightness"])
	assert.Equal(t, 80, ins.Params["brightness"])
}

// ─── Lanes ─────────────────────────────────────────────────────────

func TestLanes_HigherPriorityPreemptsInFlight(t *testing.T) {
	h := newBlockingHandler()
	d, _ := newDispatcher(t, Options{}, Capability{Action: action.LightsAnimate, Handler: h})

	low := d.Submit(context.Background(), instr(action.LightsAnimate, action.PriorityVision, map[string]any{"name": "sleep_fade"}))
	assert.Equal(t, "sleep_fade", waitStarted(t, h))

	high := d.Submit(context.Background(), instr(action.LightsAnimate, action.PriorityVoice, map[string]any{"name": "daylight"}))

	lowOut := waitOutcome(t, low)
	assert.Equal(t, StatusFailed, lowOut.Status)
	assert.ErrorIs(t, lowOut.Err, ErrPreempted)
	assert.Nil(t, lowOut.Followup, "preempted instructions do not notify")

	assert.Equal(t, "daylight", waitStarted(t, h))
	close(h.release)
	assert.Equal(t, StatusSucceeded, waitOutcome(t, high).Status)
}

func TestLanes_HigherPriorityDiscardsQueued(t *testing.T) {
	h := newBlockingHandler()
	d, _ := newDispatcher(t, Options{}, Capability{Action: action.LightsSet, Handler: h})

	active := d.Submit(context.Background(), instr(action.LightsSet, action.PriorityManual, map[string]any{"name": "manual"}))
	waitStarted(t, h)

	queued := d.Submit(context.Background(), instr(action.LightsSet, action.PriorityAmbient, map[string]any{"name": "ambient"}))
	newer := d.Submit(context.Background(), instr(action.LightsSet, action.PriorityPresence, map[string]any{"name": "presence"}))

	q := waitOutcome(t, queued)
	assert.ErrorIs(t, q.Err, ErrPreempted)
	assert.Zero(t, q.Attempts)

	close(h.release)
	assert.Equal(t, StatusSucceeded, waitOutcome(t, active).Status, "lower arrival leaves the active flight alone")
	assert.Equal(t, "presence", waitStarted(t, h))
	assert.Equal(t, StatusSucceeded, waitOutcome(t, newer).Status)
}

func TestLanes_EqualPriorityRunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	h := HandlerFunc(func(_ context.Context, p map[string]any) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, p["name"].(string))
		return nil
	})
	d, _ := newDispatcher(t, Options{}, Capability{Action: action.AudioSay, Handler: h})

	var chans []<-chan Outcome
	for _, name := range []string{"one", "two", "three"} {
		chans = append(chans, d.Submit(context.Background(), instr(action.AudioSay, action.PriorityPresence, map[string]any{"name": name})))
	}
	for _, ch := range chans {
		assert.Equal(t, StatusSucceeded, waitOutcome(t, ch).Status)
	}
	assert.Equal(t, []string{"one", "two", "three"}, order)
}

func TestLanes_IndependentTargetsRunConcurrently(t *testing.T) {
	lights := newBlockingHandler()
	audio := &countingHandler{}
	d, _ := newDispatcher(t, Options{},
		Capability{Action: action.LightsSet, Handler: lights},
		Capability{Action: action.AudioSay, Handler: audio},
	)

	blocked := d.Submit(context.Background(), instr(action.LightsSet, action.PriorityVoice, nil))
	waitStarted(t, lights)

	out := d.Execute(context.Background(), instr(action.AudioSay, action.PriorityAmbient, nil))
	assert.Equal(t, StatusSucceeded, out.Status)

	var busy *LaneView
	for _, l := range d.Lanes() {
		l := l
		if l.Target == action.TargetLights {
			busy = &l
		}
	}
	require.NotNil(t, busy)
	assert.Equal(t, action.LightsSet, busy.Active)

	close(lights.release)
	waitOutcome(t, blocked)
}

func TestLanes_SemaphoreBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	h := HandlerFunc(func(context.Context, map[string]any) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return nil
	})
	d, _ := newDispatcher(t, Options{MaxInFlight: 1},
		Capability{Action: action.DeviceOn, Handler: h},
	)

	var chans []<-chan Outcome
	for _, dev := range []string{"fan", "heater", "kettle", "lamp"} {
		chans = append(chans, d.Submit(context.Background(), instr(action.DeviceOn, action.PriorityVoice, map[string]any{"device": dev})))
	}
	for _, ch := range chans {
		waitOutcome(t, ch)
	}
	assert.EqualValues(t, 1, peak.Load())
}

func TestSubmit_AfterCloseRejected(t *testing.T) {
	d, _ := newDispatcher(t, Options{}, Capability{Action: action.LightsOn, Handler: noop()})
	require.NoError(t, d.Close(context.Background()))

	out := d.Execute(context.Background(), instr(action.LightsOn, action.PriorityVoice, nil))
	assert.Equal(t, StatusRejected, out.Status)
	assert.ErrorIs(t, out.Err, ErrClosed)
}

// ─── Circuit breaker ───────────────────────────────────────────────

func TestBreaker_OpensAfterThreeFailures(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC))
	calls := atomic.Int32{}
	fail := atomic.Bool{}
	fail.Store(true)
	h := HandlerFunc(func(context.Context, map[string]any) error {
		calls.Add(1)
		if fail.Load() {
			return errors.New("plug unreachable")
		}
		return nil
	})
	d, _ := newDispatcher(t, Options{Clock: clk},
		Capability{Action: action.DeviceOn, Handler: h, External: true},
	)
	run := func() Outcome {
		return d.Execute(context.Background(), instr(action.DeviceOn, action.PriorityVoice, map[string]any{"device": "fan"}))
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, StatusFailed, run().Status)
		clk.Advance(10 * time.Second)
	}
	assert.Equal(t, BreakerOpen, d.Breakers()[action.DeviceOn])

	out := run()
	assert.Equal(t, StatusRejected, out.Status)
	assert.ErrorIs(t, out.Err, ErrCircuitOpen)
	assert.EqualValues(t, 3, calls.Load(), "open breaker never calls the handler")

	clk.Advance(5 * time.Minute)
	assert.Equal(t, BreakerHalfOpen, d.Breakers()[action.DeviceOn])
	assert.Equal(t, StatusFailed, run().Status, "half-open trial reaches the handler")
	assert.Equal(t, StatusRejected, run().Status, "failed trial reopens")

	clk.Advance(5 * time.Minute)
	fail.Store(false)
	assert.Equal(t, StatusSucceeded, run().Status)
	assert.Equal(t, BreakerClosed, d.Breakers()[action.DeviceOn])
}

func TestBreaker_FailuresOutsideWindowDoNotTrip(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC))
	h := HandlerFunc(func(context.Context, map[string]any) error { return errors.New("down") })
	d, _ := newDispatcher(t, Options{Clock: clk},
		Capability{Action: action.DeviceOff, Handler: h, External: true},
	)

	for i := 0; i < 5; i++ {
		out := d.Execute(context.Background(), instr(action.DeviceOff, action.PriorityVoice, map[string]any{"device": "fan"}))
		assert.Equal(t, StatusFailed, out.Status)
		clk.Advance(31 * time.Second)
	}
	assert.Equal(t, BreakerClosed, d.Breakers()[action.DeviceOff])
}

func TestBreaker_InternalCapabilitiesHaveNone(t *testing.T) {
	d, _ := newDispatcher(t, Options{}, Capability{Action: action.RoomTransition, Handler: noop()})
	assert.Empty(t, d.Breakers())
}

// ─── Classification ────────────────────────────────────────────────

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrTransient, true},
		{"wrapped sentinel", fmt.Errorf("mqtt: %w", ErrTransient), true},
		{"deadline", context.DeadlineExceeded, true},
		{"net timeout", fmt.Errorf("dial: %w", netTimeout{}), true},
		{"transient interface", temporary{}, true},
		{"plain", errors.New("bad params"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
