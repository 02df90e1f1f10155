// Package main provides the entry point for the folder-mcp CLI.
package main

import (
	"os"

	"github.com/folder-mcp/daemon/cmd/folder-mcp/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
