// Package textdiff bundles the content-addressing and patching utilities
// used by the edit history engine: SHA-256 content hashes, unified diff
// generation, and strict in-process unified diff application.
package textdiff

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aymanbagabas/go-udiff"
	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// ErrPatchMismatch is returned when a unified diff's context lines do not
// match the content it is applied to. The engine treats this as fatal
// during replay; there is no fuzzy application.
var ErrPatchMismatch = errors.New("patch context mismatch")

// Hash returns the lowercase hex SHA-256 of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256 and returns the lowercase hex digest.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the content hash of the file at path. The second return
// value reports whether the file exists; a missing file is not an error.
func HashFile(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to open %q for hashing: %w", path, err)
	}
	defer f.Close()

	digest, err := HashReader(f)
	if err != nil {
		return "", true, fmt.Errorf("failed to hash %q: %w", path, err)
	}
	return digest, true, nil
}

// Unified produces a standard unified diff (3 context lines) between old
// and new, labelled a/<label> and b/<label>. Byte-identical inputs yield
// an empty diff.
func Unified(label string, old, new []byte) []byte {
	if bytes.Equal(old, new) {
		return nil
	}
	d := udiff.Unified("a/"+label, "b/"+label, string(old), string(new))
	return []byte(d)
}

// Apply patches old with a unified diff previously produced by Unified.
// Context mismatches surface as ErrPatchMismatch; the returned bytes are
// only valid when err is nil.
func Apply(old, diff []byte) ([]byte, error) {
	files, _, err := gitdiff.Parse(bytes.NewReader(diff))
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}
	if len(files) != 1 {
		return nil, fmt.Errorf("expected a single-file diff, got %d files", len(files))
	}

	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(old), files[0]); err != nil {
		var conflict *gitdiff.Conflict
		if errors.As(err, &conflict) {
			return nil, fmt.Errorf("%w: %v", ErrPatchMismatch, err)
		}
		return nil, fmt.Errorf("failed to apply diff: %w", err)
	}
	return out.Bytes(), nil
}
