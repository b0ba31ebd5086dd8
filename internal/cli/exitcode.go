package cli

import (
	"errors"

	"github.com/0kenx/mcp-servers/internal/lockfile"
	"github.com/0kenx/mcp-servers/internal/replay"
	"github.com/0kenx/mcp-servers/internal/textdiff"
	"github.com/0kenx/mcp-servers/internal/tracker"
	"github.com/0kenx/mcp-servers/internal/workspace"
)

// Exit codes, one per failure category.
const (
	ExitOK       = 0
	ExitInternal = 1
	ExitUsage    = 2
	ExitLock     = 3
	ExitHash     = 4
	ExitPatch    = 5
)

// UsageError marks argument and validation failures so main can map them
// to the right exit code.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}

// ExitCodeFor maps an error to its exit code category.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var usage *UsageError
	switch {
	case errors.As(err, &usage),
		errors.Is(err, workspace.ErrOutsideWorkspace),
		errors.Is(err, tracker.ErrConflictingEdit),
		errors.Is(err, tracker.ErrAnchorNotFound):
		return ExitUsage
	case errors.Is(err, lockfile.ErrTimeout):
		return ExitLock
	case errors.Is(err, replay.ErrExternalModification),
		errors.Is(err, replay.ErrHashDrift),
		errors.Is(err, replay.ErrMissingCheckpoint):
		return ExitHash
	case errors.Is(err, textdiff.ErrPatchMismatch):
		return ExitPatch
	default:
		return ExitInternal
	}
}
