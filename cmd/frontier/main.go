// Package main is the frontier command line: it runs the optimization
// pipeline once and prints a report.
package main

import (
	"os"

	"github.com/aristath/frontier/cmd/frontier/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
