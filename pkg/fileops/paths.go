package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands a bare "~" or a path that starts with "~/" to the user's
// home directory. This is a utility function for handling user home directory
// shortcuts.
//
// Parameters:
//   - path: The path to expand, which may be "~" or start with "~/"
//
// Returns:
//   - string: The expanded path, or the original path if it is neither "~" nor starts with "~/"
//
// Usage example:
//
//	expanded := fileops.ExpandPath("~/projects/workspace")
//	// Returns something like "/home/user/projects/workspace"
func ExpandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// NormalizeAbs converts a path to an absolute, cleaned form. Home directory
// shortcuts are expanded first.
func NormalizeAbs(path string) (string, error) {
	expanded := ExpandPath(strings.TrimSpace(path))
	if expanded == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// IsWithin reports whether path is inside dir (or is dir itself).
// Both arguments must be absolute, cleaned paths; no filesystem access
// is performed.
//
// Usage example:
//
//	if !fileops.IsWithin("/ws/sub/file.txt", "/ws") {
//	    return fmt.Errorf("file escapes the workspace")
//	}
func IsWithin(path, dir string) bool {
	if path == dir {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// ResolveExisting resolves symlinks in path. If the path does not exist,
// the parent directory is resolved instead and the base name re-joined,
// so that a yet-to-be-created file still gets a canonical location.
func ResolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("cannot resolve %q: %w", path, err)
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("parent directory does not exist: %s", filepath.Dir(path))
		}
		return "", fmt.Errorf("cannot resolve parent of %q: %w", path, err)
	}
	return filepath.Join(parent, filepath.Base(path)), nil
}
