// Package main is the entry point for the callx capture engine.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/callx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
