package arbiter

import (
	"fmt"
	"strings"

	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/room"
	"github.com/nerrad567/arvis-core/internal/scene"
)

const (
	postureLying = "lying"
	zoneBed      = "bed"
)

// routeMotion handles presence.motion: entry into an empty room.
func (r *Router) routeMotion(p *pass, ev bus.Event) error {
	if p.voice {
		r.logger.Debug("presence superseded by voice in pass", "id", ev.ID)
		return nil
	}
	if p.projected != room.Empty {
		return nil
	}

	if r.cfg.EntryDwell <= 0 {
		return r.commitEntry(p, ev)
	}
	r.stage(ev.Source, candidateEntry, room.Empty, room.Occupied, r.cfg.EntryDwell, "motion detected")
	return nil
}

func (r *Router) commitEntry(p *pass, ev bus.Event) error {
	if !r.transition(p, ev, room.Occupied, "motion detected", action.PriorityPresence) {
		return nil
	}
	return r.playScene(p, ev, scene.Entry, action.PriorityPresence)
}

// routeVacancy handles presence.timeout{minutes}.
func (r *Router) routeVacancy(p *pass, ev bus.Event) error {
	minutes, ok := ev.Number("minutes")
	if !ok {
		return malformed("minutes")
	}
	r.cancelCandidate(candidateEntry, "presence timeout")

	if p.voice {
		r.logger.Debug("vacancy superseded by voice in pass", "id", ev.ID)
		return nil
	}
	if p.projected != room.Occupied || minutes < r.cfg.VacancyMinutes {
		return nil
	}

	reason := fmt.Sprintf("no presence for %g minutes", minutes)
	if !r.transition(p, ev, room.Empty, reason, action.PriorityPresence) {
		return nil
	}
	return r.playScene(p, ev, scene.Exit, action.PriorityPresence)
}

// routePosture handles vision.posture{posture, zone, motion?}.
func (r *Router) routePosture(p *pass, ev bus.Event) error {
	posture, ok := ev.Text("posture")
	if !ok {
		return malformed("posture")
	}
	zone, ok := ev.Text("zone")
	if !ok {
		return malformed("zone")
	}
	motion, _ := ev.Number("motion")

	key := windowKey(ev.Source, candidateSleep)
	qualifying := strings.EqualFold(posture, postureLying) &&
		strings.EqualFold(zone, zoneBed) &&
		motion <= r.cfg.SleepMotionThreshold

	if !qualifying {
		r.cancel(key, "posture changed")
		return nil
	}
	if p.voice || p.projected != room.Occupied {
		return nil
	}

	r.stage(ev.Source, candidateSleep, room.Occupied, room.Sleep, r.cfg.SleepDwell, "sleep posture held")
	return nil
}

// routeBedExit handles vision.bed_exit, the only event that stops an alarm.
func (r *Router) routeBedExit(p *pass, ev bus.Event) error {
	r.cancelCandidate(candidateSleep, "bed exit")

	if r.alarm != "" {
		r.emit(p, ev, action.New(action.AlarmStop, map[string]any{"alarm_id": r.alarm}, 0), action.PriorityAlarm)
		r.logger.Info("alarm dismissed by bed exit", "alarm_id", r.alarm)
		r.alarm = ""

		if r.transition(p, ev, room.Occupied, "bed exit", action.PriorityAlarm) {
			return r.playScene(p, ev, scene.Morning, action.PriorityAlarm)
		}
		return nil
	}

	switch p.projected {
	case room.Wake, room.Sleep:
		r.transition(p, ev, room.Occupied, "bed exit", action.PriorityVision)
	}
	return nil
}

// routeAlarm handles scheduler.alarm_trigger{alarm_id}.
func (r *Router) routeAlarm(p *pass, ev bus.Event) error {
	alarmID, ok := ev.Text("alarm_id")
	if !ok || alarmID == "" {
		return malformed("alarm_id")
	}
	if r.alarm == alarmID && p.projected == room.Wake {
		r.logger.Debug("duplicate alarm trigger ignored", "alarm_id", alarmID)
		return nil
	}

	switch p.projected {
	case room.Sleep:
		r.cancelAll("alarm")
		r.transition(p, ev, room.Wake, "alarm "+alarmID, action.PriorityAlarm)
		r.emit(p, ev, action.New(action.AlarmStart, map[string]any{"alarm_id": alarmID}, 0), action.PriorityAlarm)
		r.alarm = alarmID
		return r.playScene(p, ev, scene.Wake, action.PriorityAlarm)
	case room.Occupied, room.Wake:
		r.say(p, ev, "It's time. Your alarm is due.", action.PriorityAlarm)
	default:
		r.logger.Info("alarm ignored in empty room", "alarm_id", alarmID)
	}
	return nil
}

// routeManualScene handles manual.scene{scene} from a panel or app.
func (r *Router) routeManualScene(p *pass, ev bus.Event) error {
	id, ok := ev.Text("scene")
	if !ok || id == "" {
		return malformed("scene")
	}
	if _, err := r.scenes.Get(id); err != nil {
		return err
	}

	if p.projected == room.Empty {
		r.transition(p, ev, room.Occupied, "manual scene "+id, action.PriorityManual)
	}
	return r.playScene(p, ev, id, action.PriorityManual)
}

// routeManualOverride handles manual.override{reason?}: force OCCUPIED.
func (r *Router) routeManualOverride(p *pass, ev bus.Event) error {
	r.cancelAll("manual override")

	reason, _ := ev.Text("reason")
	if reason == "" {
		reason = "manual override"
	}
	r.transition(p, ev, room.Occupied, reason, action.PriorityManual)
	return nil
}

// observeStateChange keeps the window table consistent with announced state.
func (r *Router) observeStateChange(ev bus.Event) error {
	to, ok := ev.Text("to")
	if !ok {
		return malformed("to")
	}
	state, err := room.ParseState(to)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	r.cancelStale(state)
	return nil
}

// routeElapsed commits a window whose dwell ran out, if it is still current.
func (r *Router) routeElapsed(p *pass, ev bus.Event) error {
	key, ok := ev.Text("key")
	if !ok {
		return malformed("key")
	}
	gen, ok := ev.Number("generation")
	if !ok {
		return malformed("generation")
	}

	w, exists := r.windows[key]
	if !exists || w.generation != uint64(gen) {
		r.logger.Debug("stale window elapsed", "key", key, "generation", uint64(gen))
		return nil
	}
	delete(r.windows, key)

	if p.projected != w.from {
		r.logger.Debug("window no longer applies", "key", key, "state", p.projected)
		return nil
	}

	switch w.candidate {
	case candidateSleep:
		if r.transition(p, ev, room.Sleep, w.reason, action.PriorityVision) {
			return r.playScene(p, ev, scene.Sleep, action.PriorityVision)
		}
	case candidateEntry:
		if r.transition(p, ev, room.Occupied, w.reason, action.PriorityPresence) {
			return r.playScene(p, ev, scene.Entry, action.PriorityPresence)
		}
	}
	return nil
}
