package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/arbiter"
	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/dispatch"
	"github.com/nerrad567/arvis-core/internal/room"
)

// Router turns a pass of events into instructions. *arbiter.Router satisfies it.
type Router interface {
	Decide(ctx context.Context, events []bus.Event) (arbiter.Decision, error)
}

// Dispatcher executes instructions. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Execute(ctx context.Context, ins action.Instruction) dispatch.Outcome
	Submit(ctx context.Context, ins action.Instruction) <-chan dispatch.Outcome
}

// StateReader exposes the room state. *room.Manager satisfies it.
type StateReader interface {
	State() room.State
}

// Broadcaster pushes debug messages to live clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger is the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// ChannelPass is the broadcast channel carrying pass reports.
const ChannelPass = "pass"

// Options configures an Engine.
type Options struct {
	Router      Router
	Dispatcher  Dispatcher
	State       StateReader
	Broadcaster Broadcaster
	Logger      Logger
	Now         func() time.Time
}

// Engine applies routing passes.
type Engine struct {
	router     Router
	dispatcher Dispatcher
	state      StateReader
	hub        Broadcaster
	logger     Logger
	now        func() time.Time

	mu sync.Mutex
}

// Report describes one routing pass.
type Report struct {
	Events       []bus.Event          `json:"events"`
	Instructions []action.Instruction `json:"instructions"`
	Suppressed   []action.Instruction `json:"suppressed,omitempty"`
	Outcomes     []dispatch.Outcome   `json:"outcomes,omitempty"`
	Errors       []string             `json:"errors,omitempty"`
	StateBefore  room.State           `json:"state_before"`
	StateAfter   room.State           `json:"state_after"`
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Router == nil:
		return nil, errors.New("pipeline: router is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("pipeline: dispatcher is required")
	case opts.State == nil:
		return nil, errors.New("pipeline: state reader is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		router:     opts.Router,
		dispatcher: opts.Dispatcher,
		state:      opts.State,
		hub:        opts.Broadcaster,
		logger:     opts.Logger,
		now:        opts.Now,
	}, nil
}

// Handle routes one broker event as its own pass. It is a bus.Handler.
// Actuator outcomes are not awaited; the recorder sees them.
func (e *Engine) Handle(ctx context.Context, ev bus.Event) error {
	report, _ := e.pass(ctx, []bus.Event{ev})
	e.publish(report)
	if len(report.Errors) > 0 {
		return fmt.Errorf("routing %s: %s", ev.Type, report.Errors[0])
	}
	return nil
}

// Inject routes events as one pass and waits for every outcome.
// Used by the debug channel.
//
// Parameters:
//   - ctx: Bounds the wait for outcomes
//   - events: Treated as simultaneous; missing IDs and timestamps are filled
//
// Returns:
//   - Report: Instructions, outcomes and the state before and after
//   - error: bus.ErrInvalidEvent for an untyped event
func (e *Engine) Inject(ctx context.Context, events []bus.Event) (Report, error) {
	normalized := make([]bus.Event, 0, len(events))
	for _, ev := range events {
		if ev.Type == "" {
			return Report{}, bus.ErrInvalidEvent
		}
		normalized = append(normalized, ev.Normalize(e.now()))
	}

	report, pending := e.pass(ctx, normalized)
	for _, ch := range pending {
		select {
		case out := <-ch:
			report.Outcomes = append(report.Outcomes, out)
		case <-ctx.Done():
			return report, fmt.Errorf("waiting for outcomes: %w", ctx.Err())
		}
	}
	report.StateAfter = e.state.State()
	e.publish(report)
	return report, nil
}

// pass routes and applies under the pass lock. It returns the report
// with transition outcomes filled in and the channels of submitted
// instructions.
func (e *Engine) pass(ctx context.Context, events []bus.Event) (Report, []<-chan dispatch.Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := Report{Events: events, StateBefore: e.state.State()}

	decision, err := e.router.Decide(ctx, events)
	if err != nil {
		report.Errors = splitErrors(err)
	}
	instructions := decision.Instructions
	report.Instructions = instructions
	report.Suppressed = decision.Suppressed

	// Lane work outlives the handler that submitted it.
	runCtx := context.WithoutCancel(ctx)

	var pending []<-chan dispatch.Outcome
	for _, ins := range instructions {
		if ins.Action == action.RoomTransition {
			out := e.dispatcher.Execute(runCtx, ins)
			report.Outcomes = append(report.Outcomes, out)
			if !out.OK() {
				e.logger.Warn("room transition not applied", "params", ins.Params, "reason", out.Reason)
			}
			continue
		}
		pending = append(pending, e.dispatcher.Submit(runCtx, ins))
	}

	report.StateAfter = e.state.State()
	if len(instructions) > 0 {
		e.logger.Debug("pass applied",
			"events", len(events), "instructions", len(instructions),
			"from", report.StateBefore, "to", report.StateAfter)
	}
	return report, pending
}

func (e *Engine) publish(report Report) {
	if e.hub == nil || len(report.Instructions) == 0 && len(report.Errors) == 0 {
		return
	}
	e.hub.Broadcast(ChannelPass, report)
}

func splitErrors(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		out := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
