// Package main provides the livetest CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/nginxlive/livetest/cmd/livetest/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
