package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/dispatch"
	"github.com/nerrad567/arvis-core/internal/infrastructure/config"
	"github.com/nerrad567/arvis-core/internal/pipeline"
)

const injectPath = "/api/v1/debug/events"

type injectOptions struct {
	addr    string
	token   string
	file    string
	source  string
	timeout time.Duration
}

func newInjectCmd(root *rootOptions) *cobra.Command {
	opts := &injectOptions{}

	cmd := &cobra.Command{
		Use:   "inject [type [key=value ...]]",
		Short: "Send events to a running core and print the pass report",
		Example: `  arvisd inject presence.motion zone=door
  arvisd inject voice.command text="lights on" confidence=0.93
  arvisd inject --file scenario-c.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := injectBody(opts, args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			addr := opts.addr
			if addr == "" {
				addr = apiAddress(root.configPath)
			}
			token := opts.token
			if token == "" {
				token = os.Getenv("ARVIS_TOKEN")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			report, err := postEvents(ctx, http.DefaultClient, "http://"+addr, token, body)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "debug API host:port (default from config)")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token (env ARVIS_TOKEN)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON file with one event, an array, or {\"events\": [...]}; - reads stdin")
	cmd.Flags().StringVar(&opts.source, "source", "cli", "source recorded on events built from arguments")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

// injectBody builds the request body from --file or from positional
// arguments. Argument values that parse as JSON keep their type.
func injectBody(opts *injectOptions, args []string, stdin io.Reader) ([]byte, error) {
	switch {
	case opts.file == "-":
		return io.ReadAll(stdin)
	case opts.file != "":
		return os.ReadFile(opts.file)
	case len(args) == 0:
		return nil, errors.New("an event type or --file is required")
	}

	payload := make(map[string]any, len(args)-1)
	for _, kv := range args[1:] {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", kv)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		payload[key] = v
	}
	return json.Marshal(bus.Event{Type: args[0], Source: opts.source, Payload: payload})
}

// apiAddress reads the debug API address from config, falling back to
// the defaults when no config file is available.
func apiAddress(configPath string) string {
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}
	return cfg.API.Address()
}

// postEvents sends a debug pass and decodes the report.
func postEvents(ctx context.Context, client *http.Client, baseURL, token string, body []byte) (pipeline.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+injectPath, bytes.NewReader(body))
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("posting events: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return pipeline.Report{}, fmt.Errorf("debug channel: %s (%d)", apiErr.Message, resp.StatusCode)
		}
		return pipeline.Report{}, fmt.Errorf("debug channel: status %d", resp.StatusCode)
	}

	var report pipeline.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return pipeline.Report{}, fmt.Errorf("decoding report: %w", err)
	}
	return report, nil
}

func printReport(w io.Writer, report pipeline.Report) {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)

	stateColor := color.New(color.FgCyan)
	if report.StateBefore != report.StateAfter {
		stateColor = color.New(color.FgMagenta, color.Bold)
	}
	bold.Fprint(w, "state ")
	stateColor.Fprintf(w, "%s → %s\n", report.StateBefore, report.StateAfter)

	bold.Fprintf(w, "events (%d)\n", len(report.Events))
	for _, ev := range report.Events {
		fmt.Fprintf(w, "  %s", ev.Type)
		dim.Fprintf(w, "  %s %v\n", ev.Source, ev.Payload)
	}

	bold.Fprintf(w, "instructions (%d)\n", len(report.Instructions))
	for _, ins := range report.Instructions {
		fmt.Fprintf(w, "  [%d] %s → %s", ins.Priority, ins.Action, ins.Target())
		dim.Fprintf(w, "  %v\n", ins.Params)
	}

	if len(report.Suppressed) > 0 {
		bold.Fprintf(w, "suppressed (%d)\n", len(report.Suppressed))
		for _, ins := range report.Suppressed {
			dim.Fprintf(w, "  [%d] %s → %s  %v\n", ins.Priority, ins.Action, ins.Target(), ins.Params)
		}
	}

	if len(report.Outcomes) > 0 {
		bold.Fprintf(w, "outcomes (%d)\n", len(report.Outcomes))
		for _, o := range report.Outcomes {
			printOutcome(w, o, "  ")
		}
	}

	for _, msg := range report.Errors {
		color.New(color.FgRed).Fprintf(w, "error: %s\n", msg)
	}
}

func printOutcome(w io.Writer, o dispatch.Outcome, indent string) {
	statusColor := color.New(color.FgGreen)
	switch o.Status {
	case dispatch.StatusFailed:
		statusColor = color.New(color.FgRed)
	case dispatch.StatusRejected:
		statusColor = color.New(color.FgYellow)
	}
	fmt.Fprintf(w, "%s%s ", indent, o.Instruction.Action)
	statusColor.Fprint(w, o.Status)
	if o.Reason != "" {
		fmt.Fprintf(w, " (%s)", o.Reason)
	}
	fmt.Fprintf(w, " attempts=%d\n", o.Attempts)
	if o.Followup != nil {
		printOutcome(w, *o.Followup, indent+"  ↳ ")
	}
}
