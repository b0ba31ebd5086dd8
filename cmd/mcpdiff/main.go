// Package main is the entry point for the mcpdiff reviewer CLI.
//
// mcpdiff inspects the edit history recorded by the filesystem server and
// lets a reviewer accept or reject individual edits, reconstructing the
// file state each choice implies. Failure categories map to distinct exit
// codes so scripts can react to lock contention, hash drift, and patch
// conflicts separately.
package main

import (
	"fmt"
	"os"

	"github.com/0kenx/mcp-servers/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCodeFor(err))
	}
}
