package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/clock"
)

const (
	tracerName = "github.com/nerrad567/arvis-core/internal/dispatch"

	// maxAttempts is the first call plus one silent retry.
	maxAttempts = 2

	defaultMaxInFlight      = 8
	defaultHandlerTimeout   = 5 * time.Second
	defaultRetryDelay       = 250 * time.Millisecond
	defaultBreakerThreshold = 3
	defaultBreakerWindow    = 60 * time.Second
	defaultBreakerCooldown  = 5 * time.Minute

	// DefaultNotifyText is spoken when an instruction fails.
	DefaultNotifyText = "Sorry, that didn't work."

	notifySource = "dispatch"
)

// Logger is the logging interface used by the dispatcher.
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

// Options configures a Dispatcher. Zero values take defaults.
type Options struct {
	MaxInFlight      int64
	HandlerTimeout   time.Duration
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration
	NotifyText       string
	Clock            clock.Clock
	Logger           Logger
	Recorder         Recorder
}

// Dispatcher runs instructions through per-target lanes.
type Dispatcher struct {
	registry *Registry
	breakers map[string]*breaker
	sem      *semaphore.Weighted
	tracer   trace.Tracer
	clock    clock.Clock
	logger   Logger
	recorder Recorder

	handlerTimeout time.Duration
	retryDelay     time.Duration
	notifyText     string

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

type flight struct {
	id     string
	ins    action.Instruction
	ctx    context.Context
	cancel context.CancelCauseFunc
	result chan Outcome
}

type lane struct {
	target  string
	queue   []*flight
	active  *flight
	running bool
}

// New creates a dispatcher over a registry.
//
// Parameters:
//   - reg: Capability table; must hold at least one capability
//   - opts: Limits, timings and collaborators
//
// Returns:
//   - *Dispatcher: Ready dispatcher
//   - error: ErrEmptyRegistry when reg is nil or empty
func New(reg *Registry, opts Options) (*Dispatcher, error) {
	if reg.Len() == 0 {
		return nil, ErrEmptyRegistry
	}

	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	} else if opts.RetryDelay == 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.BreakerWindow <= 0 {
		opts.BreakerWindow = defaultBreakerWindow
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = defaultBreakerCooldown
	}
	if opts.NotifyText == "" {
		opts.NotifyText = DefaultNotifyText
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Recorder == nil {
		opts.Recorder = RecorderFunc(func(context.Context, Outcome) {})
	}

	d := &Dispatcher{
		registry:       reg,
		breakers:       make(map[string]*breaker),
		sem:            semaphore.NewWeighted(opts.MaxInFlight),
		tracer:         otel.Tracer(tracerName),
		clock:          opts.Clock,
		logger:         opts.Logger,
		recorder:       opts.Recorder,
		handlerTimeout: opts.HandlerTimeout,
		retryDelay:     opts.RetryDelay,
		notifyText:     opts.NotifyText,
		lanes:          make(map[string]*lane),
	}
	for _, a := range reg.Actions() {
		if c, _ := reg.Lookup(a); c.External {
			d.breakers[a] = newBreaker(opts.Clock, opts.BreakerThreshold, opts.BreakerWindow, opts.BreakerCooldown)
		}
	}
	return d, nil
}

// Execute runs an instruction and waits for its outcome.
func (d *Dispatcher) Execute(ctx context.Context, ins action.Instruction) Outcome {
	return <-d.Submit(ctx, ins)
}

// Submit queues an instruction on its target's lane and returns a
// channel that receives exactly one Outcome.
//
// Queueing happens before Submit returns, so instructions submitted in
// order from one goroutine run in that order on a shared target.
func (d *Dispatcher) Submit(ctx context.Context, ins action.Instruction) <-chan Outcome {
	fctx, cancel := context.WithCancelCause(ctx)
	f := &flight{
		id:     uuid.NewString(),
		ins:    ins.Clone(),
		ctx:    fctx,
		cancel: cancel,
		result: make(chan Outcome, 1),
	}

	if _, ok := d.registry.Lookup(ins.Action); !ok {
		now := d.clock.Now()
		d.finish(f, Outcome{
			Status:   StatusRejected,
			Reason:   ErrUnknownAction.Error(),
			Err:      fmt.Errorf("%w: %s", ErrUnknownAction, ins.Action),
			Started:  now,
			Finished: now,
		})
		return f.result
	}

	target := ins.Target()
	var preempted []*flight

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		now := d.clock.Now()
		d.finish(f, Outcome{Status: StatusRejected, Reason: ErrClosed.Error(), Err: ErrClosed, Started: now, Finished: now})
		return f.result
	}

	l, ok := d.lanes[target]
	if !ok {
		l = &lane{target: target}
		d.lanes[target] = l
	}
	if l.active != nil && l.active.ins.Priority < ins.Priority {
		l.active.cancel(ErrPreempted)
	}
	kept := l.queue[:0]
	for _, q := range l.queue {
		if q.ins.Priority < ins.Priority {
			preempted = append(preempted, q)
			continue
		}
		kept = append(kept, q)
	}
	l.queue = append(kept, f)
	if !l.running {
		l.running = true
		d.wg.Add(1)
		go d.runLane(l)
	}
	d.mu.Unlock()

	for _, q := range preempted {
		q.cancel(ErrPreempted)
		now := d.clock.Now()
		d.finish(q, Outcome{
			Status:   StatusFailed,
			Reason:   ErrPreempted.Error(),
			Err:      ErrPreempted,
			Started:  now,
			Finished: now,
		})
	}
	return f.result
}

func (d *Dispatcher) runLane(l *lane) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			delete(d.lanes, l.target)
			d.mu.Unlock()
			return
		}
		f := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.active = f
		d.mu.Unlock()

		out := d.run(f)

		d.mu.Lock()
		l.active = nil
		d.mu.Unlock()

		if out.Status == StatusFailed && !f.ins.Degraded() && !errors.Is(out.Err, ErrPreempted) && f.ctx.Err() == nil {
			out.Followup = d.notify(f, out)
		}
		d.finish(f, out)
	}
}

// run performs one instruction: breaker gate, semaphore, attempts.
func (d *Dispatcher) run(f *flight) Outcome {
	ins := f.ins
	started := d.clock.Now()

	ctx, span := d.tracer.Start(f.ctx, "dispatch "+ins.Action,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("arvis.action", ins.Action),
			attribute.String("arvis.target", ins.Target()),
			attribute.Int("arvis.priority", ins.Priority),
			attribute.String("arvis.source", ins.Source),
			attribute.String("arvis.cause", ins.Cause),
		),
	)
	defer span.End()

	out := d.attempt(ctx, f)
	out.Started = started
	out.Finished = d.clock.Now()

	span.SetAttributes(
		attribute.String("arvis.status", string(out.Status)),
		attribute.Int("arvis.attempts", out.Attempts),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return out
}

func (d *Dispatcher) attempt(ctx context.Context, f *flight) Outcome {
	c, _ := d.registry.Lookup(f.ins.Action)

	if err := context.Cause(ctx); err != nil {
		return failed(err, 0)
	}

	brk := d.breakers[f.ins.Action]
	if brk != nil {
		if err := brk.allow(); err != nil {
			return Outcome{
				Status: StatusRejected,
				Reason: ErrCircuitOpen.Error(),
				Err:    fmt.Errorf("%w: %s", ErrCircuitOpen, f.ins.Action),
			}
		}
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		if brk != nil {
			brk.abandon()
		}
		return failed(causeOr(ctx, err), 0)
	}
	defer d.sem.Release(1)

	var err error
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		err = d.invoke(ctx, c.Handler, f.ins.Params)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			err = causeOr(ctx, err)
			break
		}
		if !IsTransient(err) || attempts == maxAttempts {
			break
		}

		d.logger.Debug("retrying instruction", "action", f.ins.Action, "error", err)
		if werr := d.wait(ctx); werr != nil {
			err = werr
			break
		}
	}

	switch {
	case err == nil:
		if brk != nil {
			brk.success()
		}
		return Outcome{Status: StatusSucceeded, Attempts: attempts}
	case errors.Is(err, ErrPreempted) || errors.Is(err, context.Canceled):
		if brk != nil {
			brk.abandon()
		}
		return failed(err, attempts)
	default:
		if brk != nil {
			brk.failure()
		}
		if IsTransient(err) && attempts == maxAttempts {
			err = fmt.Errorf("%w: %w", ErrPersistentFailure, err)
		}
		return failed(err, attempts)
	}
}

// invoke calls a handler once under the per-attempt timeout.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, params map[string]any) (err error) {
	actx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	err = h.Invoke(actx, action.CloneParams(params))
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: handler timed out after %s: %w", ErrTransient, d.handlerTimeout, err)
	}
	return err
}

func (d *Dispatcher) wait(ctx context.Context) error {
	if d.retryDelay == 0 {
		return nil
	}
	t := time.NewTimer(d.retryDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// notify runs the degraded-mode notification for a failed flight outside
// the lanes. Notifications are marked degraded and never notify again.
// It returns nil when no audio.say capability is registered.
func (d *Dispatcher) notify(f *flight, failedOut Outcome) *Outcome {
	if _, ok := d.registry.Lookup(action.AudioSay); !ok {
		return nil
	}

	note := action.New(action.AudioSay, map[string]any{
		"text":          d.notifyText,
		"degraded":      true,
		"failed_action": f.ins.Action,
		"reason":        failedOut.Reason,
	}, f.ins.Priority)
	note.Source = notifySource
	note.Cause = f.ins.Cause

	nctx, cancel := context.WithCancelCause(context.WithoutCancel(f.ctx))
	defer cancel(nil)
	nf := &flight{id: uuid.NewString(), ins: note, ctx: nctx, cancel: cancel}

	out := d.run(nf)
	out.ID = nf.id
	out.Instruction = note
	d.record(nctx, out)
	return &out
}

func (d *Dispatcher) finish(f *flight, out Outcome) {
	out.ID = f.id
	out.Instruction = f.ins
	d.record(f.ctx, out)
	f.cancel(nil)
	f.result <- out
}

func (d *Dispatcher) record(ctx context.Context, out Outcome) {
	args := []any{
		"id", out.ID,
		"action", out.Instruction.Action,
		"target", out.Instruction.Target(),
		"priority", out.Instruction.Priority,
		"status", out.Status,
		"attempts", out.Attempts,
		"latency", out.Latency(),
	}
	switch out.Status {
	case StatusSucceeded:
		d.logger.Info("instruction succeeded", args...)
	default:
		d.logger.Warn("instruction "+string(out.Status), append(args, "reason", out.Reason)...)
	}
	d.recorder.Record(context.WithoutCancel(ctx), out)
}

// Close stops accepting instructions and waits for queued ones to finish.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for lanes: %w", ctx.Err())
	}
}

// LaneView is a point-in-time view of one busy target.
type LaneView struct {
	Target string `json:"target"`
	Active string `json:"active,omitempty"`
	Queued int    `json:"queued"`
}

// Lanes returns the currently busy lanes, sorted by target.
func (d *Dispatcher) Lanes() []LaneView {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]LaneView, 0, len(d.lanes))
	for _, l := range d.lanes {
		v := LaneView{Target: l.target, Queued: len(l.queue)}
		if l.active != nil {
			v.Active = l.active.ins.Action
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Breakers returns the breaker state of every external capability.
func (d *Dispatcher) Breakers() map[string]BreakerState {
	out := make(map[string]BreakerState, len(d.breakers))
	for a, b := range d.breakers {
		out[a] = b.snapshot()
	}
	return out
}

// Actions lists the registered actions.
func (d *Dispatcher) Actions() []string {
	return d.registry.Actions()
}

func failed(err error, attempts int) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason(err), Err: err, Attempts: attempts}
}

func causeOr(ctx context.Context, err error) error {
	if c := context.Cause(ctx); c != nil {
		return c
	}
	return err
}

// reason is the machine-readable class of a failure.
func reason(err error) string {
	for _, known := range []error{ErrPreempted, ErrPersistentFailure, ErrCircuitOpen, ErrUnknownAction, ErrTransient} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
