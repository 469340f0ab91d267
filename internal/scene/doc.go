// Package scene holds the read-only scene table.
//
// A scene bundles a lighting look with an optional animation, spoken line
// and sound. The table is loaded once at startup from YAML layered over
// built-in defaults; nothing in the core ever writes to it.
//
// Scene file format:
//
//	scenes:
//	  - id: focus
//	    name: Focus
//	    lights: {state: "on", color: cool_white, brightness: 100}
//	  - id: entry
//	    animation: golden_shimmer
//	    voice: "Welcome back, {occupant}"
//
// A scene expands into instructions in a fixed order: lights (animate or
// set), then speech, then sound. The "{occupant}" placeholder in voice
// lines is replaced with the configured occupant name.
package scene
