package bus

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const defaultQueueSize = 64

// Handler processes one event. Returned errors are reported, never retried.
type Handler func(ctx context.Context, ev Event) error

// Logger is the logging interface used by the broker.
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

// Options configures a Broker.
type Options struct {
	// QueueSize is the default per-subscription queue capacity.
	QueueSize int
	Logger    Logger
}

// Broker fans events out to subscriptions.
//
// Thread Safety: all methods are safe for concurrent use.
type Broker struct {
	queueSize int
	logger    Logger

	mu     sync.RWMutex
	subs   []*Subscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	hookMu  sync.RWMutex
	onError func(sub string, ev Event, err error)
	onDrop  func(sub string, ev Event)
}

// Subscription is a pattern bound to a handler with its own queue.
type Subscription struct {
	id      string
	name    string
	pattern string
	handler Handler
	queue   chan Event
	done    chan struct{}
	once    sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// SubscribeOption customises one subscription.
type SubscribeOption func(*Subscription)

// WithName labels the subscription in logs and Stats.
func WithName(name string) SubscribeOption {
	return func(s *Subscription) { s.name = name }
}

// WithQueueSize overrides the broker's default queue capacity.
func WithQueueSize(n int) SubscribeOption {
	return func(s *Subscription) {
		if n > 0 {
			s.queue = make(chan Event, n)
		}
	}
}

// SubscriptionStats is a point-in-time view of one subscription.
type SubscriptionStats struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Pattern   string `json:"pattern"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// New creates a running broker.
func New(opts Options) *Broker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		queueSize: opts.QueueSize,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// SetOnError registers a callback for handler errors and panics.
func (b *Broker) SetOnError(fn func(sub string, ev Event, err error)) {
	b.hookMu.Lock()
	defer b.hookMu.Unlock()
	b.onError = fn
}

// SetOnDrop registers a callback for events shed under backpressure.
func (b *Broker) SetOnDrop(fn func(sub string, ev Event)) {
	b.hookMu.Lock()
	defer b.hookMu.Unlock()
	b.onDrop = fn
}

// Subscribe registers handler for every event whose type matches pattern.
//
// Parameters:
//   - pattern: Exact event type or glob ("presence.*", "*")
//   - handler: Called on the subscription's own worker goroutine
//
// Returns:
//   - *Subscription: Handle for Unsubscribe
//   - error: ErrEmptyPattern, ErrInvalidPattern, ErrNilHandler or ErrClosed
func (b *Broker) Subscribe(pattern string, handler Handler, opts ...SubscribeOption) (*Subscription, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		handler: handler,
		queue:   make(chan Event, b.queueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sub)
	}
	if sub.name == "" {
		sub.name = pattern
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subs = append(b.subs, sub)

	b.wg.Add(1)
	go b.worker(sub)

	b.logger.Debug("subscription added", "name", sub.name, "pattern", pattern)
	return sub, nil
}

// Unsubscribe stops the subscription's worker. Queued events are discarded.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	sub.stop()
}

// Publish delivers ev to every matching subscription in registration order.
//
// Critical events block until queued, ctx is done or the broker closes.
// Other events are dropped for any subscriber whose queue is full.
//
// Returns:
//   - error: ErrClosed after Close, ErrInvalidEvent for an untyped event,
//     or ctx.Err() if a critical event could not be queued in time
func (b *Broker) Publish(ctx context.Context, ev Event) error {
	if ev.Type == "" {
		return ErrInvalidEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(ev.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	critical := IsCritical(ev.Type)
	for _, sub := range targets {
		copied := ev.Clone()

		if !critical {
			select {
			case sub.queue <- copied:
			default:
				sub.dropped.Add(1)
				b.logger.Warn("event dropped, subscriber queue full",
					"subscriber", sub.name, "type", ev.Type, "source", ev.Source, "id", ev.ID)
				b.reportDrop(sub.name, ev)
			}
			continue
		}

		select {
		case sub.queue <- copied:
		case <-sub.done:
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return fmt.Errorf("publishing %s to %s: %w", ev.Type, sub.name, ctx.Err())
		}
	}
	return nil
}

// Stats returns counters for every live subscription.
func (b *Broker) Stats() []SubscriptionStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := make([]SubscriptionStats, 0, len(b.subs))
	for _, s := range b.subs {
		stats = append(stats, SubscriptionStats{
			ID:        s.id,
			Name:      s.name,
			Pattern:   s.pattern,
			Queued:    len(s.queue),
			Capacity:  cap(s.queue),
			Delivered: s.delivered.Load(),
			Dropped:   s.dropped.Load(),
			Failed:    s.failed.Load(),
		})
	}
	return stats
}

// Close stops every worker and waits for in-flight handlers to return.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	close(b.done)
	b.mu.Unlock()

	b.cancel()
	for _, s := range subs {
		s.stop()
	}
	b.wg.Wait()
}

func (b *Broker) worker(sub *Subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			b.deliver(sub, ev)
		}
	}
}

// deliver runs one handler call, isolating errors and panics.
func (b *Broker) deliver(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			sub.failed.Add(1)
			err := fmt.Errorf("handler panic: %v", r)
			b.logger.Error("subscriber panicked", "subscriber", sub.name, "type", ev.Type, "panic", r)
			b.reportError(sub.name, ev, err)
		}
	}()

	if err := sub.handler(b.ctx, ev); err != nil {
		sub.failed.Add(1)
		b.logger.Error("subscriber failed", "subscriber", sub.name, "type", ev.Type, "id", ev.ID, "error", err)
		b.reportError(sub.name, ev, err)
		return
	}
	sub.delivered.Add(1)
}

func (b *Broker) reportError(sub string, ev Event, err error) {
	b.hookMu.RLock()
	fn := b.onError
	b.hookMu.RUnlock()
	if fn != nil {
		fn(sub, ev, err)
	}
}

func (b *Broker) reportDrop(sub string, ev Event) {
	b.hookMu.RLock()
	fn := b.onDrop
	b.hookMu.RUnlock()
	if fn != nil {
		fn(sub, ev)
	}
}

func (s *Subscription) matches(eventType string) bool {
	if s.pattern == eventType || s.pattern == "*" {
		return true
	}
	ok, _ := path.Match(s.pattern, eventType) //nolint:errcheck // Pattern validated in Subscribe
	return ok
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Name returns the subscription label.
func (s *Subscription) Name() string { return s.name }

// Pattern returns the subscription pattern.
func (s *Subscription) Pattern() string { return s.pattern }
