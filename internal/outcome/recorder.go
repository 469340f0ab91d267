package outcome

import (
	"context"
	"time"

	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/dispatch"
	"github.com/nerrad567/arvis-core/internal/infrastructure/influxdb"
)

const writeTimeout = 2 * time.Second

// Logger is the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Telemetry receives time-series points. *influxdb.Client satisfies it;
// a nil or disconnected client writes nothing.
type Telemetry interface {
	WriteOutcome(p influxdb.OutcomePoint)
	WriteTransition(room, from, to, reason string, at time.Time)
	WriteDrop(room, eventType, subscriber string, at time.Time)
}

// Options configures a Recorder.
type Options struct {
	RoomID    string
	Repo      Repository
	Telemetry Telemetry
	Logger    Logger
}

// Recorder fans outcomes out to the repository and telemetry.
// It implements dispatch.Recorder.
type Recorder struct {
	roomID    string
	repo      Repository
	telemetry Telemetry
	logger    Logger
}

// NewRecorder creates a recorder. Repo and Telemetry are optional.
func NewRecorder(opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Recorder{
		roomID:    opts.RoomID,
		repo:      opts.Repo,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}
}

// Record stores one outcome. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, o dispatch.Outcome) {
	rec := FromOutcome(r.roomID, o)

	if r.repo != nil {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := r.repo.Create(wctx, &rec)
		cancel()
		if err != nil {
			r.logger.Error("failed to store outcome", "id", rec.ID, "action", rec.Action, "error", err)
		}
	}

	if r.telemetry != nil {
		r.telemetry.WriteOutcome(influxdb.OutcomePoint{
			Room:     r.roomID,
			Action:   rec.Action,
			Target:   rec.Target,
			Status:   rec.Status,
			Priority: rec.Priority,
			Attempts: rec.Attempts,
			Degraded: rec.Degraded,
			Latency:  rec.Latency(),
			Finished: rec.FinishedAt,
		})
	}
}

// ObserveTransitions returns a bus handler that writes room.state_changed
// events to telemetry.
func (r *Recorder) ObserveTransitions() bus.Handler {
	return func(_ context.Context, ev bus.Event) error {
		if r.telemetry == nil || ev.Type != bus.TypeStateChanged {
			return nil
		}
		from, _ := ev.Text("from")
		to, _ := ev.Text("to")
		reason, _ := ev.Text("reason")
		r.telemetry.WriteTransition(r.roomID, from, to, reason, ev.Timestamp)
		return nil
	}
}

// ObserveDrop is a bus drop hook that counts shed events.
func (r *Recorder) ObserveDrop(sub string, ev bus.Event) {
	r.logger.Warn("event dropped", "subscriber", sub, "type", ev.Type, "id", ev.ID)
	if r.telemetry != nil {
		r.telemetry.WriteDrop(r.roomID, ev.Type, sub, time.Now())
	}
}
