package scene

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nerrad567/arvis-core/internal/action"
)

// Scene IDs the router relies on.
const (
	Entry   = "entry"
	Exit    = "exit"
	Sleep   = "sleep"
	Wake    = "wake"
	Morning = "morning"
	Focus   = "focus"
	Cozy    = "cozy"
)

// Required lists scenes that must exist in any loaded table.
var Required = []string{Entry, Exit, Sleep, Wake, Morning}

const (
	occupantPlaceholder = "{occupant}"
	maxNameLength       = 100
	maxBrightness       = 100
	idPattern           = `^[a-z0-9]+(?:_[a-z0-9]+)*$`
)

var idRegex = regexp.MustCompile(idPattern)

// Lights is the static lighting look of a scene.
type Lights struct {
	// State is "on", "off" or empty for no lighting change.
	State      string `yaml:"state" json:"state,omitempty"`
	Color      string `yaml:"color" json:"color,omitempty"`
	Brightness int    `yaml:"brightness" json:"brightness,omitempty"`
}

// Scene is one entry in the scene table.
type Scene struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Lights    Lights `yaml:"lights" json:"lights"`
	Animation string `yaml:"animation" json:"animation,omitempty"`
	Voice     string `yaml:"voice" json:"voice,omitempty"`
	Sound     string `yaml:"sound" json:"sound,omitempty"`
}

// Validate checks a single scene definition.
func (s Scene) Validate() error {
	if !idRegex.MatchString(s.ID) {
		return fmt.Errorf("%w: id %q must be lower_snake_case", ErrInvalidScene, s.ID)
	}
	if len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: %s: name exceeds %d characters", ErrInvalidScene, s.ID, maxNameLength)
	}
	switch s.Lights.State {
	case "", "on", "off":
	default:
		return fmt.Errorf("%w: %s: lights.state must be on or off", ErrInvalidScene, s.ID)
	}
	if s.Lights.Brightness < 0 || s.Lights.Brightness > maxBrightness {
		return fmt.Errorf("%w: %s: brightness must be 0-%d", ErrInvalidScene, s.ID, maxBrightness)
	}
	if s.Lights.State == "" && s.Animation == "" && s.Voice == "" && s.Sound == "" {
		return fmt.Errorf("%w: %s: scene has no effect", ErrInvalidScene, s.ID)
	}
	return nil
}

// DisplayName returns Name, falling back to a title-cased ID.
func (s Scene) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	words := strings.Split(s.ID, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Instructions expands the scene into unprioritised instructions.
// The caller assigns priority, source and sequence.
func (s Scene) Instructions(occupant string) []action.Instruction {
	var out []action.Instruction

	if lights := s.lightParams(); s.Animation != "" {
		lights["animation"] = s.Animation
		lights["scene"] = s.ID
		out = append(out, action.New(action.LightsAnimate, lights, 0))
	} else if s.Lights.State != "" {
		lights["scene"] = s.ID
		out = append(out, action.New(action.LightsSet, lights, 0))
	}

	if s.Voice != "" {
		text := strings.ReplaceAll(s.Voice, occupantPlaceholder, occupant)
		out = append(out, action.New(action.AudioSay, map[string]any{"text": text}, 0))
	}
	if s.Sound != "" {
		out = append(out, action.New(action.AudioPlay, map[string]any{"sound": s.Sound}, 0))
	}
	return out
}

func (s Scene) lightParams() map[string]any {
	params := make(map[string]any, 5)
	if s.Lights.State != "" {
		params["state"] = s.Lights.State
	}
	if s.Lights.Color != "" {
		params["color"] = s.Lights.Color
	}
	if s.Lights.Brightness > 0 {
		params["brightness"] = s.Lights.Brightness
	}
	return params
}
