// Package main is the entry point for the mcp-remote-broker CLI.
package main

import (
	"os"

	"github.com/stacklok/mcp-remote-broker/cmd/mcp-remote-broker/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
