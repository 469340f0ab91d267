package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/clock"
	"github.com/nerrad567/arvis-core/internal/room"
	"github.com/nerrad567/arvis-core/internal/scene"
)

// StateReader exposes the current room state. *room.Manager satisfies it.
type StateReader interface {
	State() room.State
}

// SceneSource looks scenes up by ID. *scene.Store satisfies it.
type SceneSource interface {
	Get(id string) (scene.Scene, error)
}

// Emitter publishes router-generated events such as elapsed windows.
// *bus.Broker satisfies it.
type Emitter interface {
	Publish(ctx context.Context, ev bus.Event) error
}

// Logger is the logging interface used by the router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the routing policy knobs.
type Config struct {
	// Occupant is spoken in greetings.
	Occupant string
	// SleepDwell is how long the sleep posture must hold.
	SleepDwell time.Duration
	// EntryDwell is how long motion must persist before entry; zero commits at once.
	EntryDwell time.Duration
	// VacancyMinutes is the presence.timeout threshold for leaving OCCUPIED.
	VacancyMinutes float64
	// SleepMotionThreshold is the highest motion score still counted as still.
	SleepMotionThreshold float64
	// MinVoiceConfidence is the STT confidence below which the router asks again.
	MinVoiceConfidence float64
	// Devices are the switchable devices voice can address, as IDs.
	Devices []string
}

// Options configures a Router.
type Options struct {
	Config  Config
	State   StateReader
	Scenes  SceneSource
	Emitter Emitter
	Clock   clock.Clock
	Logger  Logger
}

// Router maps events to instructions. Routing passes are serialised.
type Router struct {
	cfg     Config
	state   StateReader
	scenes  SceneSource
	emitter Emitter
	clock   clock.Clock
	logger  Logger

	mu         sync.Mutex
	windows    map[string]*window
	generation uint64
	overrides  map[string]bool
	alarm      string
}

// New creates a router.
//
// Returns:
//   - *Router: Ready to route
//   - error: ErrMissingDependency if State, Scenes or Emitter is nil
func New(opts Options) (*Router, error) {
	switch {
	case opts.State == nil:
		return nil, fmt.Errorf("%w: state reader", ErrMissingDependency)
	case opts.Scenes == nil:
		return nil, fmt.Errorf("%w: scene source", ErrMissingDependency)
	case opts.Emitter == nil:
		return nil, fmt.Errorf("%w: emitter", ErrMissingDependency)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Router{
		cfg:       opts.Config,
		state:     opts.State,
		scenes:    opts.Scenes,
		emitter:   opts.Emitter,
		clock:     opts.Clock,
		logger:    opts.Logger,
		windows:   make(map[string]*window),
		overrides: make(map[string]bool),
	}, nil
}

// Decision is the result of one routing pass.
type Decision struct {
	// Instructions survived priority resolution, in production order.
	Instructions []action.Instruction `json:"instructions"`
	// Suppressed lost priority resolution to another event's instruction.
	Suppressed []action.Instruction `json:"suppressed,omitempty"`
}

// Route routes a single event as its own pass.
func (r *Router) Route(ctx context.Context, ev bus.Event) ([]action.Instruction, error) {
	return r.RoutePass(ctx, []bus.Event{ev})
}

// RoutePass routes events treated as simultaneous and returns the
// surviving instructions in production order.
func (r *Router) RoutePass(ctx context.Context, events []bus.Event) ([]action.Instruction, error) {
	d, err := r.Decide(ctx, events)
	return d.Instructions, err
}

// Decide routes events treated as simultaneous.
//
// Malformed events are skipped and reported in the joined error; the
// instructions from the remaining events are still returned.
//
// Returns:
//   - Decision: Surviving and suppressed instructions
//   - error: Joined per-event routing errors, or the context error
func (r *Router) Decide(ctx context.Context, events []bus.Event) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &pass{projected: r.state.State()}
	ordered := make([]bus.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return classify(ordered[i].Type) < classify(ordered[j].Type)
	})
	var errs []error
	for _, ev := range ordered {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.route(p, ev); err != nil {
			r.logger.Warn("event dropped by router", "type", ev.Type, "id", ev.ID, "source", ev.Source, "error", err)
			errs = append(errs, fmt.Errorf("%s %s: %w", ev.Type, ev.ID, err))
		}
	}

	return r.resolve(p.out), errors.Join(errs...)
}

// Close stops every staged window timer.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelAll("router closed")
}

// ActiveAlarm returns the ID of the ringing alarm, or "".
func (r *Router) ActiveAlarm() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alarm
}

// Overrides returns the targets currently held by a manual override.
func (r *Router) Overrides() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.overrides))
	for target := range r.overrides {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

func (r *Router) route(p *pass, ev bus.Event) error {
	switch ev.Type {
	case bus.TypeVoiceCommand:
		return r.routeVoice(p, ev)
	case bus.TypePresenceMotion:
		return r.routeMotion(p, ev)
	case bus.TypePresenceTimeout:
		return r.routeVacancy(p, ev)
	case bus.TypeVisionPosture:
		return r.routePosture(p, ev)
	case bus.TypeVisionBedExit:
		return r.routeBedExit(p, ev)
	case bus.TypeAlarmTrigger:
		return r.routeAlarm(p, ev)
	case bus.TypeManualScene:
		return r.routeManualScene(p, ev)
	case bus.TypeManualOverride:
		return r.routeManualOverride(p, ev)
	case bus.TypeStateChanged:
		return r.observeStateChange(ev)
	case bus.TypeDebounceElapsed:
		return r.routeElapsed(p, ev)
	default:
		r.logger.Debug("event type not routed", "type", ev.Type, "id", ev.ID)
		return nil
	}
}

// ─── Pass bookkeeping ─────────────────────────────────────────────────

type class int

const (
	classVoice class = iota
	classElapsed
	classScheduler
	classSystem
	classVision
	classPresence
	classUnknown
)

func classify(eventType string) class {
	switch eventType {
	case bus.TypeDebounceElapsed:
		return classElapsed
	case bus.TypeStateChanged, bus.TypeManualScene, bus.TypeManualOverride:
		return classSystem
	}
	domain, _, _ := strings.Cut(eventType, ".")
	switch domain {
	case "voice":
		return classVoice
	case "scheduler":
		return classScheduler
	case "vision":
		return classVision
	case "presence":
		return classPresence
	}
	return classUnknown
}

// pass accumulates one routing pass.
type pass struct {
	projected room.State
	voice     bool
	seq       int
	out       []action.Instruction
}

// emit stamps an instruction with its origin and appends it, unless an
// override suppresses it.
func (r *Router) emit(p *pass, ev bus.Event, ins action.Instruction, priority int) {
	ins.Priority = priority
	ins.Source = ev.Type
	ins.Cause = ev.ID
	target := ins.Target()

	if ins.Automatic() && r.overrides[target] {
		r.logger.Debug("automatic instruction suppressed by override",
			"action", ins.Action, "target", target, "event", ev.ID)
		return
	}

	if (classify(ev.Type) == classVoice || ev.Type == bus.TypeManualScene) && overridable(target) {
		r.overrides[target] = true
	}

	p.seq++
	ins.Seq = p.seq
	p.out = append(p.out, ins)
}

func overridable(target string) bool {
	return target == action.TargetLights || strings.HasPrefix(target, "device:")
}

// transition emits a room.transition when the projected state allows it.
func (r *Router) transition(p *pass, ev bus.Event, to room.State, reason string, priority int) bool {
	from := p.projected
	if !room.CanTransition(from, to) {
		r.logger.Debug("transition not allowed from projected state",
			"from", from, "to", to, "event", ev.Type)
		return false
	}

	r.emit(p, ev, action.New(action.RoomTransition, map[string]any{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	}, 0), priority)
	p.projected = to

	if (from == room.Empty && to == room.Occupied) || to == room.Sleep {
		clear(r.overrides)
	}
	r.cancelStale(to)
	return true
}

// playScene emits a scene's instructions at the given priority.
func (r *Router) playScene(p *pass, ev bus.Event, id string, priority int) error {
	sc, err := r.scenes.Get(id)
	if err != nil {
		return err
	}
	for _, ins := range sc.Instructions(r.cfg.Occupant) {
		r.emit(p, ev, ins, priority)
	}
	return nil
}

func (r *Router) say(p *pass, ev bus.Event, text string, priority int) {
	r.emit(p, ev, action.New(action.AudioSay, map[string]any{"text": text}, 0), priority)
}

// resolve keeps, for each target, only the instructions of the event that
// owns the winning instruction. Room transitions always pass; the losers
// are logged and returned as suppressed.
func (r *Router) resolve(out []action.Instruction) Decision {
	winners := make(map[string]action.Instruction)
	for _, ins := range out {
		target := ins.Target()
		if target == action.TargetRoom {
			continue
		}
		w, ok := winners[target]
		if !ok || ins.Priority > w.Priority || (ins.Priority == w.Priority && ins.Seq > w.Seq) {
			winners[target] = ins
		}
	}

	d := Decision{Instructions: make([]action.Instruction, 0, len(out))}
	for _, ins := range out {
		target := ins.Target()
		if target == action.TargetRoom || ins.Cause == winners[target].Cause {
			d.Instructions = append(d.Instructions, ins)
			continue
		}
		w := winners[target]
		r.logger.Info("instruction suppressed by higher priority",
			"action", ins.Action, "target", target, "priority", ins.Priority, "cause", ins.Cause,
			"winner_action", w.Action, "winner_priority", w.Priority, "winner_cause", w.Cause)
		d.Suppressed = append(d.Suppressed, ins)
	}
	return d
}

func malformed(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformedEvent, field)
}
