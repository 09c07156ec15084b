// Command fluxsim runs differentiable smoke simulations.
package main

import (
	"os"

	"github.com/openfluke/fluxgrid/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
