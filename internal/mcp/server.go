// Package mcp wires the filesystem tool-server: it registers the mutation
// tools over the mcp-go stdio transport and routes every write-like call
// through the edit history tracker.
package mcp

import (
	"fmt"
	"os"

	"github.com/0kenx/mcp-servers/internal/config"
	"github.com/0kenx/mcp-servers/internal/logging"
	"github.com/0kenx/mcp-servers/internal/tracker"
	"github.com/0kenx/mcp-servers/internal/workspace"

	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Server is the filesystem MCP server instance.
type Server struct {
	config    *config.Config
	logger    *logging.AppLogger
	ws        *workspace.Workspace
	tracker   *tracker.Tracker
	mcpServer *server.MCPServer
}

// NewServer creates a new filesystem MCP server over the configured
// allowed directories.
func NewServer(cfg *config.Config, logger *logging.AppLogger) (*Server, error) {
	if logger == nil {
		logger = logging.GetDefault()
	}

	ws, err := workspace.New(cfg.AllowedDirectories, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize workspace: %w", err)
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		ws:      ws,
		tracker: tracker.New(ws, cfg.LockTimeout(), cfg.LogWarnBytes, logger),
	}

	s.mcpServer = server.NewMCPServer(
		"mcpfs",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)
	s.registerTools()

	return s, nil
}

// Start serves the MCP protocol over stdio until the client disconnects.
func (s *Server) Start() error {
	s.logger.Info("Starting filesystem MCP server",
		"allowed", s.config.AllowedDirectories, "pid", os.Getpid())
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func serverInstructions() string {
	return `Filesystem mutation tools with edit history tracking.

Every mutation is recorded in the workspace's edit history and starts as
'pending' until a reviewer accepts or rejects it with the mcpdiff CLI.
The first mutation of a session returns a conversation identifier; pass
it back as conversation_id on subsequent calls so related edits are
grouped and reviewed together.`
}
