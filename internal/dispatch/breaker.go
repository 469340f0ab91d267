package dispatch

import (
	"sync"
	"time"

	"github.com/nerrad567/arvis-core/internal/clock"
)

// BreakerState is the position of a circuit breaker.
type BreakerState string

// Breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// breaker guards one external capability.
type breaker struct {
	mu        sync.Mutex
	clock     clock.Clock
	threshold int
	window    time.Duration
	cooldown  time.Duration

	state    BreakerState
	failures []time.Time
	openedAt time.Time
	trial    bool
}

func newBreaker(clk clock.Clock, threshold int, window, cooldown time.Duration) *breaker {
	return &breaker{
		clock:     clk,
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		state:     BreakerClosed,
	}
}

// allow reports whether a call may proceed. In half-open only one trial
// call is admitted until it reports back.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.trial = true
		return nil
	case BreakerHalfOpen:
		if b.trial {
			return ErrCircuitOpen
		}
		b.trial = true
		return nil
	default:
		return nil
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = nil
	b.trial = false
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if b.state == BreakerHalfOpen {
		b.trip(now)
		return
	}

	kept := b.failures[:0]
	for _, at := range b.failures {
		if now.Sub(at) < b.window {
			kept = append(kept, at)
		}
	}
	b.failures = append(kept, now)
	if len(b.failures) >= b.threshold {
		b.trip(now)
	}
}

// abandon releases a half-open trial that never reached the handler.
func (b *breaker) abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.trial = false
	}
}

func (b *breaker) trip(now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.failures = nil
	b.trial = false
}

func (b *breaker) snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.clock.Now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}
