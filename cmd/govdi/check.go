package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flsl0/govdi/vdi"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Scan a VDI image's block map for consistency violations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := vdi.Open(args[0], os.O_RDONLY)
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer img.Close()

			result := img.Check()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "over-range entries:       %d\n", result.OverRangeEntries)
			fmt.Fprintf(out, "allocated count mismatch: %v\n", result.AllocatedCountMismatch)
			fmt.Fprintf(out, "total errors:             %d\n", result.Errors)
			if result.Errors != 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}
