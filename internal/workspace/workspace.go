// Package workspace enforces the allowlist contract for the filesystem
// server: every path handed to a mutation tool must resolve inside one of
// the configured workspace roots, symlinks included. The package also
// locates the workspace root that owns a path (the directory carrying a
// .mcp marker) so the history store knows where to live.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/0kenx/mcp-servers/internal/logging"
	"github.com/0kenx/mcp-servers/pkg/fileops"
)

// MCPDirName is the marker directory identifying a workspace root.
const MCPDirName = ".mcp"

// HistoryDirName is the history store location relative to a workspace root.
const HistoryDirName = ".mcp/edit_history"

// ErrOutsideWorkspace is returned when a path (or its symlink target) does
// not fall under any allowed directory.
var ErrOutsideWorkspace = errors.New("path outside allowed directories")

// Workspace validates paths against a fixed set of allowed roots.
type Workspace struct {
	roots  []string
	logger *logging.AppLogger
}

// New builds a Workspace from allowed directory paths. Each root is
// expanded, made absolute, and symlink-resolved once up front.
func New(roots []string, logger *logging.AppLogger) (*Workspace, error) {
	if logger == nil {
		logger = logging.GetDefault()
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("configuration error: no allowed directories specified")
	}

	normalized := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := fileops.NormalizeAbs(root)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed directory %q: %w", root, err)
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("allowed directory %q is not accessible: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("allowed directory %q is not a directory", root)
		}
		normalized = append(normalized, abs)
	}

	return &Workspace{roots: normalized, logger: logger}, nil
}

// Roots returns the allowed directories.
func (w *Workspace) Roots() []string {
	return w.roots
}

// Validate checks that path lies inside an allowed directory and returns
// its canonical absolute form. For existing paths symlinks are fully
// resolved and the resolved target is re-checked; for paths being created
// the parent directory must exist and resolve inside the allowlist.
func (w *Workspace) Validate(path string) (string, error) {
	abs, err := fileops.NormalizeAbs(path)
	if err != nil {
		return "", err
	}

	if !w.contains(abs) {
		w.logger.Warn("Access denied", "path", abs)
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, abs)
	}

	resolved, err := fileops.ResolveExisting(abs)
	if err != nil {
		return "", fmt.Errorf("failed to validate %q: %w", path, err)
	}
	if !w.contains(resolved) {
		w.logger.Warn("Access denied for symlink target", "path", abs, "resolved", resolved)
		return "", fmt.Errorf("%w: %s resolves to %s", ErrOutsideWorkspace, abs, resolved)
	}

	return resolved, nil
}

func (w *Workspace) contains(abs string) bool {
	for _, root := range w.roots {
		if fileops.IsWithin(abs, root) {
			return true
		}
	}
	return false
}

// RootFor returns the workspace root governing path: the nearest ancestor
// carrying a .mcp directory, or failing that the allowed directory that
// contains the path. The path must already be validated.
func (w *Workspace) RootFor(path string) (string, error) {
	if root, ok := findMarkerRoot(path); ok {
		return root, nil
	}
	for _, root := range w.roots {
		if fileops.IsWithin(path, root) {
			return root, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
}

// HistoryRoot returns the history store directory for a workspace root.
func HistoryRoot(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, filepath.FromSlash(HistoryDirName))
}

// FindRoot walks upward from start looking for a directory that contains
// the .mcp marker. It is used by the reviewer CLI to auto-detect the
// workspace from the current working directory.
func FindRoot(start string) (string, error) {
	abs, err := fileops.NormalizeAbs(start)
	if err != nil {
		return "", err
	}
	if root, ok := findMarkerRoot(filepath.Join(abs, "probe")); ok {
		return root, nil
	}
	return "", fmt.Errorf("no workspace marker (%s) found in %q or any parent", MCPDirName, abs)
}

// findMarkerRoot walks up from the parent of path until it finds a
// directory containing .mcp, stopping at the filesystem root.
func findMarkerRoot(path string) (string, bool) {
	dir := filepath.Dir(path)
	for {
		marker := filepath.Join(dir, MCPDirName)
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
