package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "arvisd",
		Short:         "Arvis room decision core",
		Version:       version + " (" + commit + ", " + date + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", getConfigPath(),
		"configuration file (env ARVIS_CONFIG)")

	root.AddCommand(
		newServeCmd(opts),
		newInjectCmd(opts),
		newScenesCmd(opts),
		newTokenCmd(opts),
	)
	return root
}
