package dispatch

import (
	"context"
	"time"

	"github.com/nerrad567/arvis-core/internal/action"
)

// Status is the terminal state of an instruction.
type Status string

// Outcome statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// Outcome is the single terminal result of one instruction.
type Outcome struct {
	ID          string             `json:"id"`
	Instruction action.Instruction `json:"instruction"`
	Status      Status             `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	Err         error              `json:"-"`
	Attempts    int                `json:"attempts"`
	Started     time.Time          `json:"started"`
	Finished    time.Time          `json:"finished"`
	// Followup is the degraded-mode notification sent after a failure.
	Followup *Outcome `json:"followup,omitempty"`
}

// Latency is the time from start to finish.
func (o Outcome) Latency() time.Duration {
	return o.Finished.Sub(o.Started)
}

// OK reports whether the instruction succeeded.
func (o Outcome) OK() bool {
	return o.Status == StatusSucceeded
}

// Recorder receives every terminal outcome, follow-ups included.
// Implementations handle their own errors.
type Recorder interface {
	Record(ctx context.Context, o Outcome)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, o Outcome)

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, o Outcome) { f(ctx, o) }
