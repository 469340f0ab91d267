package room

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/clock"
)

const (
	defaultHistorySize = 50
	announceSource     = "room"
)

// Announcer publishes state-change events. *bus.Broker satisfies it.
type Announcer interface {
	Publish(ctx context.Context, ev bus.Event) error
}

// Logger is the logging interface used by the manager.
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

// Options configures a Manager.
type Options struct {
	// RoomID is included in every announcement.
	RoomID    string
	Initial   State
	Announcer Announcer
	Clock     clock.Clock
	Logger    Logger
	// HistorySize bounds the in-memory change log.
	HistorySize int
}

// Manager is the single owner of RoomState.
//
// Thread Safety: State is lock-free; SetState is serialised.
type Manager struct {
	roomID    string
	announcer Announcer
	clock     clock.Clock
	logger    Logger

	current atomic.Value // State
	writeMu sync.Mutex

	histMu      sync.RWMutex
	history     []Change
	historySize int

	queueMu sync.Mutex
	queue   []Change
	closing bool
	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewManager creates a manager and starts its announcer goroutine.
// Call Close to stop it.
func NewManager(opts Options) *Manager {
	if opts.Initial == "" {
		opts.Initial = Empty
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		roomID:      opts.RoomID,
		announcer:   opts.Announcer,
		clock:       opts.Clock,
		logger:      opts.Logger,
		historySize: opts.HistorySize,
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
	}
	m.current.Store(opts.Initial)

	go m.announceLoop()
	return m
}

// State returns the current state without blocking.
func (m *Manager) State() State {
	return m.current.Load().(State)
}

// SetState validates and applies a transition, then queues its announcement.
//
// Parameters:
//   - ctx: Unused for the mutation itself; honoured if already cancelled
//   - to: Requested state
//   - reason: Human-readable cause, carried in the announcement
//
// Returns:
//   - Change: The committed change
//   - error: ErrInvalidTransition when the edge is not in the table
func (m *Manager) SetState(ctx context.Context, to State, reason string) (Change, error) {
	if err := ctx.Err(); err != nil {
		return Change{}, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	from := m.State()
	if !CanTransition(from, to) {
		m.logger.Error("invalid room transition rejected",
			"room", m.roomID, "from", from, "to", to, "reason", reason)
		return Change{}, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}

	change := Change{From: from, To: to, Reason: reason, At: m.clock.Now().UTC()}
	m.current.Store(to)
	m.record(change)
	m.enqueue(change)

	m.logger.Info("room state changed", "room", m.roomID, "from", from, "to", to, "reason", reason)
	return change, nil
}

// History returns recorded changes, oldest first.
func (m *Manager) History() []Change {
	m.histMu.RLock()
	defer m.histMu.RUnlock()
	return append([]Change(nil), m.history...)
}

// Close stops the announcer after it has published everything queued, or
// as soon as ctx is done.
func (m *Manager) Close(ctx context.Context) {
	m.queueMu.Lock()
	m.closing = true
	m.queueMu.Unlock()
	m.signal()

	select {
	case <-m.stopped:
	case <-ctx.Done():
		m.cancel()
		<-m.stopped
	}
	m.cancel()
}

func (m *Manager) record(c Change) {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	m.history = append(m.history, c)
	if over := len(m.history) - m.historySize; over > 0 {
		m.history = append([]Change(nil), m.history[over:]...)
	}
}

func (m *Manager) enqueue(c Change) {
	m.queueMu.Lock()
	m.queue = append(m.queue, c)
	m.queueMu.Unlock()
	m.signal()
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) announceLoop() {
	defer close(m.stopped)
	for {
		select {
		case <-m.wake:
		case <-m.ctx.Done():
			return
		}

		for {
			m.queueMu.Lock()
			batch := m.queue
			m.queue = nil
			closing := m.closing
			m.queueMu.Unlock()

			if len(batch) == 0 {
				if closing {
					return
				}
				break
			}
			for _, c := range batch {
				m.announce(c)
			}
		}
	}
}

func (m *Manager) announce(c Change) {
	if m.announcer == nil {
		return
	}
	ev := bus.NewEvent(bus.TypeStateChanged, announceSource, map[string]any{
		"room":   m.roomID,
		"from":   string(c.From),
		"to":     string(c.To),
		"reason": c.Reason,
	})
	ev.Timestamp = c.At
	if err := m.announcer.Publish(m.ctx, ev); err != nil {
		m.logger.Warn("state change announcement failed",
			"from", c.From, "to", c.To, "error", err)
	}
}
