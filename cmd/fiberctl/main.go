//go:build linux

// File: cmd/fiberctl/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// fiberctl exercises the fiber runtime: cooperative sleeps, a hooked echo
// server and the tunable registry.

package main

import (
	"fmt"
	"os"

	"github.com/momentics/hioload-fiber/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fiberctl: %v\n", err)
		os.Exit(1)
	}
}
