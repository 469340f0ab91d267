package arbiter

import (
	"context"
	"sort"
	"time"

	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/clock"
	"github.com/nerrad567/arvis-core/internal/room"
)

// Debounce candidates.
const (
	candidateSleep = "sleep"
	candidateEntry = "entry"
)

const emitterSource = "arbiter"

// window is a staged automatic transition waiting out its dwell.
type window struct {
	key        string
	source     string
	candidate  string
	from       room.State
	to         room.State
	reason     string
	generation uint64
	deadline   time.Time
	timer      clock.Timer
}

// Window is a read-only view of a pending debounce window.
type Window struct {
	Key        string        `json:"key"`
	Source     string        `json:"source"`
	Candidate  string        `json:"candidate"`
	From       room.State    `json:"from"`
	To         room.State    `json:"to"`
	Generation uint64        `json:"generation"`
	Deadline   time.Time     `json:"deadline"`
	Remaining  time.Duration `json:"remaining"`
}

func windowKey(source, candidate string) string {
	return source + "|" + candidate
}

// stage arms a window unless one already exists for the key.
// Returns false for a duplicate.
func (r *Router) stage(source, candidate string, from, to room.State, dwell time.Duration, reason string) bool {
	key := windowKey(source, candidate)
	if _, exists := r.windows[key]; exists {
		r.logger.Debug("duplicate qualifying signal ignored", "key", key)
		return false
	}

	r.generation++
	gen := r.generation
	w := &window{
		key:        key,
		source:     source,
		candidate:  candidate,
		from:       from,
		to:         to,
		reason:     reason,
		generation: gen,
		deadline:   r.clock.Now().Add(dwell),
	}
	w.timer = r.clock.AfterFunc(dwell, func() { r.elapsed(key, gen) })
	r.windows[key] = w

	r.logger.Debug("debounce window staged", "key", key, "generation", gen, "deadline", w.deadline)
	return true
}

// elapsed runs on the timer goroutine and must not take r.mu.
func (r *Router) elapsed(key string, generation uint64) {
	ev := bus.NewEvent(bus.TypeDebounceElapsed, emitterSource, map[string]any{
		"key":        key,
		"generation": generation,
	})
	if err := r.emitter.Publish(context.Background(), ev); err != nil {
		r.logger.Error("publishing elapsed window failed", "key", key, "error", err)
	}
}

func (r *Router) cancel(key, reason string) {
	w, ok := r.windows[key]
	if !ok {
		return
	}
	w.timer.Stop()
	delete(r.windows, key)
	r.logger.Debug("debounce window cancelled", "key", key, "reason", reason)
}

func (r *Router) cancelAll(reason string) {
	for key := range r.windows {
		r.cancel(key, reason)
	}
}

func (r *Router) cancelCandidate(candidate, reason string) {
	for key, w := range r.windows {
		if w.candidate == candidate {
			r.cancel(key, reason)
		}
	}
}

// cancelStale drops windows staged from a state the room has left.
func (r *Router) cancelStale(current room.State) {
	for key, w := range r.windows {
		if w.from != current {
			r.cancel(key, "room state moved on")
		}
	}
}

// Pending returns the open debounce windows sorted by key.
func (r *Router) Pending() []Window {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make([]Window, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, Window{
			Key:        w.key,
			Source:     w.source,
			Candidate:  w.candidate,
			From:       w.from,
			To:         w.to,
			Generation: w.generation,
			Deadline:   w.deadline,
			Remaining:  w.deadline.Sub(now),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
