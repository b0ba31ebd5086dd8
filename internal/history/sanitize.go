package history

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// maxSanitizedLen approximates the common filesystem name limit, leaving
// headroom for the .chkpt / .chkpt.revert suffixes.
const maxSanitizedLen = 200

// SanitizePath maps an absolute file path to a safe checkpoint filename.
// The path is made workspace-relative, separators and other unsafe runes
// become underscores, and over-long results are truncated with a hash
// suffix of the full sanitized string so the mapping stays injective
// within a conversation directory. Paths outside the workspace fall back
// to the SHA-256 of the absolute path.
func SanitizePath(workspaceRoot, absPath string) string {
	rel, err := filepath.Rel(workspaceRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		sum := sha256.Sum256([]byte(absPath))
		return hex.EncodeToString(sum[:])
	}

	var b strings.Builder
	for _, r := range rel {
		switch {
		case r == '/' || r == '\\' || r == ':':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	sanitized := b.String()

	if len(sanitized) > maxSanitizedLen {
		sum := sha1.Sum([]byte(sanitized))
		suffix := hex.EncodeToString(sum[:])[:8]
		sanitized = sanitized[:maxSanitizedLen-9] + "_" + suffix
	}
	return sanitized
}
