// Package main provides the entry point for the AIPex CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Sinio-Manoka/AIPex-sub000/cmd/aipex/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
