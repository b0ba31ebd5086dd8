package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/0kenx/mcp-servers/internal/history"
	"github.com/0kenx/mcp-servers/internal/tracker"
	"github.com/0kenx/mcp-servers/pkg/fileops"

	gomcp "github.com/mark3labs/mcp-go/mcp"
)

// registerTools declares the mutation tool surface. Read-only tools have
// no interaction with the history engine and live elsewhere.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		gomcp.NewTool("write_file",
			gomcp.WithDescription("Write a complete file. Creates the file when absent, replaces its content otherwise. The mutation is recorded in the edit history as pending."),
			gomcp.WithString("path", gomcp.Required(), gomcp.Description("Path of the file to write")),
			gomcp.WithString("content", gomcp.Required(), gomcp.Description("Full new content of the file")),
			gomcp.WithString("conversation_id", gomcp.Description("Conversation identifier returned by a previous mutation in this session")),
		),
		s.handleWriteFile,
	)

	s.mcpServer.AddTool(
		gomcp.NewTool("edit_file",
			gomcp.WithDescription(`Edit a file by content anchors, without line numbers.

replacements maps existing literal text to its replacement. inserts maps
an anchor substring to content inserted immediately after it; the empty
anchor "" inserts at the beginning of the file. Set replace_all to apply
to every occurrence instead of the first. With dry_run the resulting
diff is returned but nothing is written or recorded.`),
			gomcp.WithString("path", gomcp.Required(), gomcp.Description("Path of the file to edit")),
			gomcp.WithObject("replacements", gomcp.Description("Map of existing text to replacement text")),
			gomcp.WithObject("inserts", gomcp.Description("Map of anchor text to content inserted after it")),
			gomcp.WithBoolean("replace_all", gomcp.Description("Apply to all occurrences (default true)")),
			gomcp.WithBoolean("dry_run", gomcp.Description("Validate and return the diff without writing")),
			gomcp.WithString("conversation_id", gomcp.Description("Conversation identifier returned by a previous mutation in this session")),
		),
		s.handleEditFile,
	)

	s.mcpServer.AddTool(
		gomcp.NewTool("edit_file_lines",
			gomcp.WithDescription(`Edit a file by line selectors. All selectors address the original
numbering of the pre-edit file. Line numbers start at 1.

Selectors: "N" replaces line N; "N-M" replaces the inclusive range (empty
content deletes the lines); "Ni" inserts after line N ("0i" at the
beginning); "a" appends at the end. Overlapping ranges are rejected.`),
			gomcp.WithString("path", gomcp.Required(), gomcp.Description("Path of the file to edit")),
			gomcp.WithObject("edits", gomcp.Required(), gomcp.Description("Map of line selector to replacement content")),
			gomcp.WithBoolean("dry_run", gomcp.Description("Validate and return the diff without writing")),
			gomcp.WithString("conversation_id", gomcp.Description("Conversation identifier returned by a previous mutation in this session")),
		),
		s.handleEditFileLines,
	)

	s.mcpServer.AddTool(
		gomcp.NewTool("delete_file",
			gomcp.WithDescription("Delete a file. The removal is recorded in the edit history and can be rejected to restore the file."),
			gomcp.WithString("path", gomcp.Required(), gomcp.Description("Path of the file to delete")),
			gomcp.WithString("conversation_id", gomcp.Description("Conversation identifier returned by a previous mutation in this session")),
		),
		s.handleDeleteFile,
	)

	s.mcpServer.AddTool(
		gomcp.NewTool("move_file",
			gomcp.WithDescription("Move or rename a file. Both endpoints must be inside the workspace; an existing destination is refused."),
			gomcp.WithString("source", gomcp.Required(), gomcp.Description("Current path of the file")),
			gomcp.WithString("destination", gomcp.Required(), gomcp.Description("New path of the file")),
			gomcp.WithString("conversation_id", gomcp.Description("Conversation identifier returned by a previous mutation in this session")),
		),
		s.handleMoveFile,
	)

	s.mcpServer.AddTool(
		gomcp.NewTool("create_directory",
			gomcp.WithDescription("Create a directory, including missing parents. Succeeds silently when the directory already exists. Directory creation is not tracked in the edit history."),
			gomcp.WithString("path", gomcp.Required(), gomcp.Description("Path of the directory to create")),
		),
		s.handleCreateDirectory,
	)

	s.mcpServer.AddTool(
		gomcp.NewTool("list_allowed_directories",
			gomcp.WithDescription("List the workspace roots this server may modify."),
		),
		s.handleListAllowedDirectories,
	)
}

func (s *Server) handleWriteFile(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return gomcp.NewToolResultError("missing required parameter: path"), nil
	}
	content := req.GetString("content", "")
	conv := history.ConversationID(req.GetString("conversation_id", ""))

	result, err := s.tracker.WriteFile(path, content, conv)
	if err != nil {
		return s.toolError("write_file", err), nil
	}
	return gomcp.NewToolResultText(result.FormatMessage()), nil
}

func (s *Server) handleEditFile(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return gomcp.NewToolResultError("missing required parameter: path"), nil
	}
	replacements, err := stringMapArg(req, "replacements")
	if err != nil {
		return gomcp.NewToolResultError(err.Error()), nil
	}
	inserts, err := stringMapArg(req, "inserts")
	if err != nil {
		return gomcp.NewToolResultError(err.Error()), nil
	}
	replaceAll := req.GetBool("replace_all", true)
	dryRun := req.GetBool("dry_run", false)
	conv := history.ConversationID(req.GetString("conversation_id", ""))

	result, err := s.tracker.EditContent(path, replacements, inserts, replaceAll, dryRun, conv)
	if err != nil {
		return s.toolError("edit_file", err), nil
	}
	return gomcp.NewToolResultText(formatEditResult(result)), nil
}

func (s *Server) handleEditFileLines(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return gomcp.NewToolResultError("missing required parameter: path"), nil
	}
	edits, err := stringMapArg(req, "edits")
	if err != nil {
		return gomcp.NewToolResultError(err.Error()), nil
	}
	if len(edits) == 0 {
		return gomcp.NewToolResultError("missing required parameter: edits"), nil
	}
	dryRun := req.GetBool("dry_run", false)
	conv := history.ConversationID(req.GetString("conversation_id", ""))

	result, err := s.tracker.EditLines(path, edits, dryRun, conv)
	if err != nil {
		return s.toolError("edit_file_lines", err), nil
	}
	return gomcp.NewToolResultText(formatEditResult(result)), nil
}

func (s *Server) handleDeleteFile(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return gomcp.NewToolResultError("missing required parameter: path"), nil
	}
	conv := history.ConversationID(req.GetString("conversation_id", ""))

	result, err := s.tracker.Delete(path, conv)
	if err != nil {
		return s.toolError("delete_file", err), nil
	}
	return gomcp.NewToolResultText(result.FormatMessage()), nil
}

func (s *Server) handleMoveFile(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	source := req.GetString("source", "")
	destination := req.GetString("destination", "")
	if source == "" || destination == "" {
		return gomcp.NewToolResultError("missing required parameters: source, destination"), nil
	}
	conv := history.ConversationID(req.GetString("conversation_id", ""))

	result, err := s.tracker.Move(source, destination, conv)
	if err != nil {
		return s.toolError("move_file", err), nil
	}
	return gomcp.NewToolResultText(result.FormatMessage()), nil
}

func (s *Server) handleCreateDirectory(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return gomcp.NewToolResultError("missing required parameter: path"), nil
	}
	validated, err := s.ws.Validate(path)
	if err != nil {
		return s.toolError("create_directory", err), nil
	}
	if err := fileops.EnsureDir(validated); err != nil {
		return s.toolError("create_directory", err), nil
	}
	return gomcp.NewToolResultText(fmt.Sprintf("Created directory %s", path)), nil
}

func (s *Server) handleListAllowedDirectories(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var b strings.Builder
	b.WriteString("Allowed directories:\n")
	for _, root := range s.ws.Roots() {
		fmt.Fprintf(&b, "  %s\n", root)
	}
	return gomcp.NewToolResultText(b.String()), nil
}

// stringMapArg extracts an object argument whose values must be strings.
func stringMapArg(req gomcp.CallToolRequest, key string) (map[string]string, error) {
	args := req.GetArguments()
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be an object of strings", key)
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %q: value for key %q must be a string", key, k)
		}
		out[k] = str
	}
	return out, nil
}

func formatEditResult(result *tracker.Result) string {
	if result.DryRun {
		if result.Diff == "" {
			return "Dry run: no changes would be made."
		}
		return "Dry run: the edit would apply the following diff:\n" + result.Diff
	}
	return result.FormatMessage()
}

func (s *Server) toolError(tool string, err error) *gomcp.CallToolResult {
	s.logger.Debug("Tool call failed", "tool", tool, "error", err)
	return gomcp.NewToolResultError(err.Error())
}
