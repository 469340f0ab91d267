package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/arvis-core/internal/infrastructure/config"
	"github.com/nerrad567/arvis-core/internal/scene"
)

func newScenesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scenes",
		Short: "Print the scene table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			store, err := scene.Load(cfg.Scenes.File)
			if err != nil {
				return fmt.Errorf("loading scenes: %w", err)
			}
			return printScenes(cmd.OutOrStdout(), store)
		},
	}
}

func printScenes(w io.Writer, store *scene.Store) error {
	color.New(color.Faint).Fprintf(w, "source: %s\n", store.Source())

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLIGHTS\tANIMATION\tSOUND\tVOICE")
	for _, s := range store.List() {
		lights := "-"
		if s.Lights.State != "" {
			lights = fmt.Sprintf("%s %d%%", s.Lights.State, s.Lights.Brightness)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.DisplayName(), lights, dash(s.Animation), dash(s.Sound), dash(s.Voice))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
