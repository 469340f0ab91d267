package outcome

import (
	"time"

	"github.com/nerrad567/arvis-core/internal/dispatch"
)

// Record is one stored outcome row.
type Record struct {
	ID         string         `json:"id"`
	RoomID     string         `json:"room_id"`
	Action     string         `json:"action"`
	Target     string         `json:"target"`
	Priority   int            `json:"priority"`
	Source     string         `json:"source,omitempty"`
	CauseID    string         `json:"cause_id,omitempty"`
	Status     string         `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	Attempts   int            `json:"attempts"`
	Degraded   bool           `json:"degraded"`
	Params     map[string]any `json:"params,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// FromOutcome flattens a dispatch outcome for storage.
func FromOutcome(roomID string, o dispatch.Outcome) Record {
	ins := o.Instruction
	return Record{
		ID:         o.ID,
		RoomID:     roomID,
		Action:     ins.Action,
		Target:     ins.Target(),
		Priority:   ins.Priority,
		Source:     ins.Source,
		CauseID:    ins.Cause,
		Status:     string(o.Status),
		Reason:     o.Reason,
		Attempts:   o.Attempts,
		Degraded:   ins.Degraded(),
		Params:     ins.Params,
		StartedAt:  o.Started,
		FinishedAt: o.Finished,
	}
}

// Latency is the time the instruction spent in the dispatcher.
func (r Record) Latency() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
