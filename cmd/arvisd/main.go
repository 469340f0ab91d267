// Arvis - single-room ambient assistant decision core.
//
// arvisd turns sensor, voice and schedule signals into room state
// transitions and actuator commands. One routing pass at a time, one
// owner of the room state, one lane per actuator.
//
// Subcommands:
//
//	arvisd serve            run the decision core
//	arvisd inject           send events to a running core's debug channel
//	arvisd scenes           print the scene table
//	arvisd token            issue a debug channel bearer token
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path.
// Uses ARVIS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ARVIS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
