// Package main is the entry point for the tripwire threat intelligence
// matching engine.
package main

import (
	"fmt"
	"os"

	"tripwire/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
