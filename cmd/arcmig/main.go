// Package main provides the arcmig CLI entry point.
// arcmig reconciles digitized archive holdings across storage roots.
package main

import (
	"fmt"
	"os"

	"github.com/arcmig/arcmig/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
