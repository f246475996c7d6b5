// Package main is the entry point for the anpx gateway/receiver binary.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/anpx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
