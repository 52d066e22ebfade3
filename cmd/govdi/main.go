// Command govdi is a thin demonstration front-end over the vdi
// library: create, inspect (info), check, and probe VDI images from the
// shell.
// The format library has no CLI/environment requirements of its own
// (spec §6); this binary exists only to exercise it end to end.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
