package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flsl0/govdi/vdi"
)

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <path>",
		Short: "Report whether a file looks like a VDI image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			buf := make([]byte, 128)
			n, err := f.Read(buf)
			if err != nil && n == 0 {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			score := vdi.Probe(buf[:n])
			fmt.Fprintf(cmd.OutOrStdout(), "%s: probe score %d\n", args[0], score)
			if score == 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}
