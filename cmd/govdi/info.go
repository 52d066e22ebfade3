package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flsl0/govdi/vdi"
)

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Print header and allocation summary for a VDI image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := vdi.Open(args[0], os.O_RDONLY)
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer img.Close()

			info := img.Info()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "disk size:        %d bytes\n", info.DiskSize)
			fmt.Fprintf(out, "block size:       %d bytes\n", info.BlockSize)
			fmt.Fprintf(out, "blocks in image:  %d\n", info.BlocksInImage)
			fmt.Fprintf(out, "blocks allocated: %d\n", info.BlocksAllocated)
			fmt.Fprintf(out, "image type:       %s\n", imageTypeName(info.ImageType))
			return nil
		},
	}
}

func imageTypeName(t vdi.ImageType) string {
	switch t {
	case vdi.ImageDynamic:
		return "dynamic"
	case vdi.ImageStatic:
		return "static"
	default:
		return "unknown"
	}
}
