package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flsl0/govdi/vdi"
)

func createCmd() *cobra.Command {
	var size int64
	var static bool

	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create a new VDI image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := vdi.Create(path, vdi.CreateOptions{Size: size, Static: static}); err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d bytes, static=%v)\n", path, size, static)
			return nil
		},
	}

	cmd.Flags().Int64Var(&size, vdi.OptSize, 64*1024*1024, "virtual disk size in bytes")
	cmd.Flags().BoolVar(&static, vdi.OptStatic, false, "pre-allocate every block at create time")
	return cmd
}
