package arbiter

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/nerrad567/arvis-core/internal/action"
	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/room"
)

// Spoken replies.
const (
	replyClarify   = "I didn't catch that."
	replyUnknown   = "I can't do that yet."
	replyAlarmRule = "Get out of bed to stop the alarm."
	replyNoAlarm   = "There's no alarm ringing."
	replyAwake     = "Okay, you're awake."
	replyOkay      = "Okay."
	replyLightsOn  = "Lights on."
	replyLightsOff = "Lights off."
	replyLightsDim = "Lights dimmed."
	replyLightsUp  = "Lights up."
)

const (
	dimBrightness    = 30
	brightBrightness = 100
)

type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdLightsOn
	cmdLightsOff
	cmdLightsSet
	cmdScene
	cmdDeviceOn
	cmdDeviceOff
	cmdStatus
	cmdAwake
	cmdStopAlarm
)

// command is a parsed voice request.
type command struct {
	kind   commandKind
	scene  string
	device string
	params map[string]any
	reply  string
}

var fillerWords = map[string]bool{
	"hey": true, "arvis": true, "please": true, "can": true, "could": true,
	"you": true, "would": true, "the": true, "my": true, "a": true,
}

var awakePhrases = []string{
	"still awake", "i'm awake", "im awake", "i am awake", "not asleep", "not sleeping",
}

// routeVoice handles voice.command{text | intent, confidence?}.
func (r *Router) routeVoice(p *pass, ev bus.Event) error {
	text, hasText := ev.Text("text")
	intent, hasIntent := ev.Object("intent")
	if !hasText && !hasIntent {
		return malformed("text or intent")
	}

	p.voice = true
	r.cancelAll("voice command")

	confidence := 1.0
	if c, ok := ev.Number("confidence"); ok {
		confidence = c
	}
	if confidence < r.cfg.MinVoiceConfidence {
		r.say(p, ev, replyClarify, action.PriorityVoice)
		return nil
	}

	var cmd command
	if hasIntent {
		cmd = r.parseIntent(intent)
	} else {
		cmd = r.parsePhrase(text)
	}

	if p.projected == room.Empty && cmd.kind != cmdUnknown {
		r.transition(p, ev, room.Occupied, "voice command", action.PriorityVoice)
	}
	return r.execute(p, ev, cmd)
}

func (r *Router) execute(p *pass, ev bus.Event, cmd command) error {
	switch cmd.kind {
	case cmdStopAlarm:
		if r.alarm != "" {
			r.say(p, ev, replyAlarmRule, action.PriorityVoice)
		} else {
			r.say(p, ev, replyNoAlarm, action.PriorityVoice)
		}

	case cmdAwake:
		if p.projected == room.Sleep && r.transition(p, ev, room.Occupied, "still awake", action.PriorityVoice) {
			r.say(p, ev, replyAwake, action.PriorityVoice)
		} else {
			r.say(p, ev, replyOkay, action.PriorityVoice)
		}

	case cmdStatus:
		r.say(p, ev, "Room is "+p.projected.Lower()+".", action.PriorityVoice)

	case cmdLightsOn:
		r.emit(p, ev, action.New(action.LightsOn, cmd.params, 0), action.PriorityVoice)
		r.say(p, ev, replyLightsOn, action.PriorityVoice)

	case cmdLightsOff:
		r.emit(p, ev, action.New(action.LightsOff, cmd.params, 0), action.PriorityVoice)
		r.say(p, ev, replyLightsOff, action.PriorityVoice)

	case cmdLightsSet:
		r.emit(p, ev, action.New(action.LightsSet, cmd.params, 0), action.PriorityVoice)
		r.say(p, ev, cmd.reply, action.PriorityVoice)

	case cmdScene:
		sc, err := r.scenes.Get(cmd.scene)
		if err != nil {
			r.say(p, ev, replyUnknown, action.PriorityVoice)
			return nil
		}
		if err := r.playScene(p, ev, sc.ID, action.PriorityVoice); err != nil {
			return err
		}
		if sc.Voice == "" {
			r.say(p, ev, sc.DisplayName()+" mode.", action.PriorityVoice)
		}

	case cmdDeviceOn, cmdDeviceOff:
		actionID, state := action.DeviceOn, "on"
		if cmd.kind == cmdDeviceOff {
			actionID, state = action.DeviceOff, "off"
		}
		r.emit(p, ev, action.New(actionID, map[string]any{"device": cmd.device}, 0), action.PriorityVoice)
		r.say(p, ev, spokenDevice(cmd.device)+" "+state+".", action.PriorityVoice)

	default:
		r.say(p, ev, replyUnknown, action.PriorityVoice)
	}
	return nil
}

// parsePhrase matches normalised text against the phrase table.
func (r *Router) parsePhrase(text string) command {
	norm := normalize(text)
	words := strings.Fields(norm)
	has := func(w string) bool {
		for _, x := range words {
			if x == w {
				return true
			}
		}
		return false
	}

	switch {
	case has("alarm") && (has("stop") || has("off") || has("dismiss") || has("cancel") || has("snooze")):
		return command{kind: cmdStopAlarm}
	case containsAny(norm, awakePhrases):
		return command{kind: cmdAwake}
	case has("status") || strings.Contains(norm, "what state"):
		return command{kind: cmdStatus}
	}

	if has("light") || has("lights") {
		switch {
		case has("dim") || has("dimmer") || has("down"):
			return command{kind: cmdLightsSet, params: map[string]any{"brightness": dimBrightness}, reply: replyLightsDim}
		case has("brighter") || has("brighten") || has("up"):
			return command{kind: cmdLightsSet, params: map[string]any{"brightness": brightBrightness}, reply: replyLightsUp}
		case has("off"):
			return command{kind: cmdLightsOff}
		case has("on"):
			return command{kind: cmdLightsOn}
		}
	}

	if name, ok := sceneName(words); ok {
		return command{kind: cmdScene, scene: name}
	}

	if device, on, ok := r.matchDevice(words); ok {
		if on {
			return command{kind: cmdDeviceOn, device: device}
		}
		return command{kind: cmdDeviceOff, device: device}
	}

	return command{kind: cmdUnknown}
}

// parseIntent maps a producer-supplied intent{action, params} to a command.
func (r *Router) parseIntent(intent map[string]any) command {
	name, _ := intent["action"].(string)
	params, _ := intent["params"].(map[string]any)
	str := func(key string) string {
		v, _ := params[key].(string)
		return v
	}

	switch name {
	case action.LightsOn:
		return command{kind: cmdLightsOn, params: params}
	case action.LightsOff:
		return command{kind: cmdLightsOff, params: params}
	case action.LightsSet:
		return command{kind: cmdLightsSet, params: params, reply: replyOkay}
	case "scene":
		return command{kind: cmdScene, scene: str("scene")}
	case action.DeviceOn, action.DeviceOff:
		device := normalizeDevice(str("device"))
		if !r.knownDevice(device) {
			return command{kind: cmdUnknown}
		}
		if name == action.DeviceOn {
			return command{kind: cmdDeviceOn, device: device}
		}
		return command{kind: cmdDeviceOff, device: device}
	case "status":
		return command{kind: cmdStatus}
	case "awake":
		return command{kind: cmdAwake}
	case action.AlarmStop:
		return command{kind: cmdStopAlarm}
	}
	return command{kind: cmdUnknown}
}

// sceneName extracts X from "X mode", "X scene" or "activate X".
func sceneName(words []string) (string, bool) {
	if len(words) < 2 {
		return "", false
	}
	var rest []string
	switch last := words[len(words)-1]; {
	case last == "mode" || last == "scene":
		rest = words[:len(words)-1]
	case words[0] == "activate":
		rest = words[1:]
	default:
		return "", false
	}

	var name []string
	for _, w := range rest {
		switch w {
		case "switch", "to", "set", "start", "activate", "turn", "on", "enable", "go", "into", "in":
			continue
		}
		name = append(name, w)
	}
	if len(name) == 0 {
		return "", false
	}
	return strings.Join(name, "_"), true
}

// matchDevice finds a configured device named in words with an on/off verb.
func (r *Router) matchDevice(words []string) (device string, on bool, ok bool) {
	var hasOn, hasOff bool
	var name []string
	for _, w := range words {
		switch w {
		case "on":
			hasOn = true
		case "off":
			hasOff = true
		case "turn", "switch", "power":
		default:
			name = append(name, w)
		}
	}
	if hasOn == hasOff {
		return "", false, false
	}

	device = normalizeDevice(strings.Join(name, " "))
	if !r.knownDevice(device) {
		return "", false, false
	}
	return device, hasOn, true
}

func (r *Router) knownDevice(device string) bool {
	for _, d := range r.cfg.Devices {
		if normalizeDevice(d) == device {
			return true
		}
	}
	return false
}

// normalize folds case, keeps apostrophes and drops other punctuation and filler.
func normalize(text string) string {
	folded := cases.Fold().String(text)
	folded = strings.NewReplacer("’", "'", "‘", "'").Replace(folded)
	folded = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'', r == '-', r == '_':
			return r
		default:
			return ' '
		}
	}, folded)

	words := strings.Fields(folded)
	kept := words[:0]
	for _, w := range words {
		if !fillerWords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// normalizeDevice maps "Desk-Lamp", "desk lamp" and "desk_lamp" to "desk_lamp".
func normalizeDevice(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), "_")
}

func spokenDevice(device string) string {
	s := strings.ReplaceAll(device, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
