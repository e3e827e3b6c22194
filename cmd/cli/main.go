// Package main is the entry point for fleetctl.
// fleetctl is the terminal tool for starting, stopping and listing fleet instances.
package main

import (
	"os"

	"fleetgate/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
