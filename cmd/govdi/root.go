package main

import (
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "govdi",
		Short:         "Inspect and create VirtualBox VDI disk images",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(createCmd())
	cmd.AddCommand(infoCmd())
	cmd.AddCommand(checkCmd())
	cmd.AddCommand(probeCmd())

	return cmd
}
