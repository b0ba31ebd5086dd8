package fileops

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates a directory (and any missing parents) if it does not
// already exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile writes data to path durably: the content goes to a
// temporary file in the same directory, is fsynced, and is then renamed
// over the destination. The rename is the commit point; readers never
// observe a partially written file.
//
// Parameters:
//   - path: Destination file path
//   - data: Content to write
//   - perm: File mode for the destination
//
// Returns:
//   - error: Any I/O error; on failure the destination is left untouched
//     and the temporary file is removed.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}
