// Package main is the entry point for the mcpfs filesystem tool-server.
//
// The server speaks the Model Context Protocol over stdio and exposes the
// mutation tools (whole-file write, line and content-anchored edits, move,
// delete) with edit history tracking behind every write-like operation.
// Allowed workspace roots come from the command line, falling back to the
// config file when no arguments are given.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/0kenx/mcp-servers/internal/config"
	"github.com/0kenx/mcp-servers/internal/logging"
	"github.com/0kenx/mcp-servers/internal/mcp"
)

func main() {
	appLogger := logging.NewAppLogger()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [allowed-directory ...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Serves the filesystem MCP tools over stdio. Mutations are restricted\nto the allowed directories and recorded in each workspace's edit history.\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		appLogger.Error("Error loading config", "error", err)
		os.Exit(1)
	}

	if args := flag.Args(); len(args) > 0 {
		cfg.AllowedDirectories = args
	}
	if len(cfg.AllowedDirectories) == 0 {
		appLogger.Error("No allowed directories specified (arguments or config file)")
		flag.Usage()
		os.Exit(2)
	}

	srv, err := mcp.NewServer(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		appLogger.Error("Server terminated", "error", err)
		os.Exit(1)
	}
}
