// Command leasectl is the operator CLI for the lease workflow service.
package main

import (
	"fmt"
	"os"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "leasectl:", err)
		os.Exit(1)
	}
}
