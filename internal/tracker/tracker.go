// Package tracker wraps every file-modifying operation of the filesystem
// server. Track brackets a mutation with identifier assignment, pre-state
// capture (hash + first-touch checkpoint), execution, post-state capture
// (hash + unified diff), and a log entry append, all under the
// conversation log lock and per-file locks.
package tracker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/0kenx/mcp-servers/internal/history"
	"github.com/0kenx/mcp-servers/internal/lockfile"
	"github.com/0kenx/mcp-servers/internal/logging"
	"github.com/0kenx/mcp-servers/internal/textdiff"
	"github.com/0kenx/mcp-servers/internal/workspace"
	"github.com/0kenx/mcp-servers/pkg/fileops"
)

// Precondition errors: the mutation never ran and no log entry exists.
var (
	ErrFileMissing = errors.New("file does not exist")
	ErrFileExists  = errors.New("destination already exists")
)

// Tracker executes and records mutations for one server process. It is
// safe for concurrent use; cross-process coordination is entirely
// lock-file based.
type Tracker struct {
	ws          *workspace.Workspace
	lockTimeout time.Duration
	warnBytes   int64
	logger      *logging.AppLogger

	mu     sync.Mutex
	stores map[string]*history.Store
}

// New builds a Tracker over the given workspace allowlist.
func New(ws *workspace.Workspace, lockTimeout time.Duration, warnBytes int64, logger *logging.AppLogger) *Tracker {
	if logger == nil {
		logger = logging.GetDefault()
	}
	return &Tracker{
		ws:          ws,
		lockTimeout: lockTimeout,
		warnBytes:   warnBytes,
		logger:      logger,
		stores:      make(map[string]*history.Store),
	}
}

// Result is what a tracked mutation reports back to the tool caller.
type Result struct {
	Message         string
	ConversationID  history.ConversationID
	NewConversation bool
	DryRun          bool
	Diff            string
}

// FormatMessage renders the tool response, appending the conversation
// identifier when this invocation started a new conversation.
func (r *Result) FormatMessage() string {
	msg := r.Message
	if r.NewConversation {
		msg += fmt.Sprintf("\n[new conversation started: %s]", r.ConversationID)
	}
	return msg
}

// opAuto lets whole-file writes classify themselves as create or replace
// once the target's existence is known under lock.
const opAuto = history.Operation("")

// mutation is the internal description track executes.
type mutation struct {
	op         history.Operation
	toolName   string
	path       string // validated absolute target (destination for move)
	sourcePath string // validated absolute source, move only
	// compute derives the post-state bytes for content-changing ops.
	// nil for delete and move.
	compute func(old []byte, exists bool) ([]byte, error)
	dryRun  bool
	summary func(op history.Operation) string
}

// WriteFile records a whole-file write: create when the path is absent,
// replace otherwise.
func (t *Tracker) WriteFile(path, content string, conv history.ConversationID) (*Result, error) {
	validated, err := t.ws.Validate(path)
	if err != nil {
		return nil, err
	}
	return t.track(mutation{
		op:       opAuto,
		toolName: "write_file",
		path:     validated,
		compute: func(_ []byte, _ bool) ([]byte, error) {
			return []byte(content), nil
		},
		summary: func(op history.Operation) string {
			if op == history.OpCreate {
				return fmt.Sprintf("Created %s (%d bytes)", path, len(content))
			}
			return fmt.Sprintf("Replaced %s (%d bytes)", path, len(content))
		},
	}, conv)
}

// EditLines records a line-selected edit. All selectors address the
// original numbering of the pre-edit file.
func (t *Tracker) EditLines(path string, edits map[string]string, dryRun bool, conv history.ConversationID) (*Result, error) {
	validated, err := t.ws.Validate(path)
	if err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		return nil, fmt.Errorf("no edits specified")
	}
	return t.track(mutation{
		op:       history.OpEdit,
		toolName: "edit_file_lines",
		path:     validated,
		dryRun:   dryRun,
		compute: func(old []byte, exists bool) ([]byte, error) {
			if !exists {
				return nil, fmt.Errorf("%w: %s", ErrFileMissing, path)
			}
			original := string(old)
			parsed, err := parseLineEdits(edits, len(splitLines(original)))
			if err != nil {
				return nil, err
			}
			return []byte(applyLineEdits(original, parsed)), nil
		},
		summary: func(history.Operation) string {
			return fmt.Sprintf("Applied %d line edit(s) to %s", len(edits), path)
		},
	}, conv)
}

// EditContent records a content-anchored edit: literal replacements and
// insertions after anchor substrings.
func (t *Tracker) EditContent(path string, replacements, inserts map[string]string, replaceAll, dryRun bool, conv history.ConversationID) (*Result, error) {
	validated, err := t.ws.Validate(path)
	if err != nil {
		return nil, err
	}
	if len(replacements) == 0 && len(inserts) == 0 {
		return nil, fmt.Errorf("no replacements or inserts specified")
	}
	return t.track(mutation{
		op:       history.OpEdit,
		toolName: "edit_file",
		path:     validated,
		dryRun:   dryRun,
		compute: func(old []byte, exists bool) ([]byte, error) {
			if !exists {
				return nil, fmt.Errorf("%w: %s", ErrFileMissing, path)
			}
			next, err := applyContentEdits(string(old), replacements, inserts, replaceAll)
			if err != nil {
				return nil, err
			}
			return []byte(next), nil
		},
		summary: func(history.Operation) string {
			return fmt.Sprintf("Applied %d replacement(s) and %d insert(s) to %s",
				len(replacements), len(inserts), path)
		},
	}, conv)
}

// Delete records a file removal.
func (t *Tracker) Delete(path string, conv history.ConversationID) (*Result, error) {
	validated, err := t.ws.Validate(path)
	if err != nil {
		return nil, err
	}
	return t.track(mutation{
		op:       history.OpDelete,
		toolName: "delete_file",
		path:     validated,
		summary: func(history.Operation) string {
			return fmt.Sprintf("Deleted %s", path)
		},
	}, conv)
}

// Move records a rename. Both endpoints must be inside the workspace and
// the destination must not already exist.
func (t *Tracker) Move(source, destination string, conv history.ConversationID) (*Result, error) {
	validatedSrc, err := t.ws.Validate(source)
	if err != nil {
		return nil, err
	}
	validatedDst, err := t.ws.Validate(destination)
	if err != nil {
		return nil, err
	}
	return t.track(mutation{
		op:         history.OpMove,
		toolName:   "move_file",
		path:       validatedDst,
		sourcePath: validatedSrc,
		summary: func(history.Operation) string {
			return fmt.Sprintf("Moved %s to %s", source, destination)
		},
	}, conv)
}

// storeFor returns (opening on first use) the history store of the
// workspace root governing path.
func (t *Tracker) storeFor(path string) (*history.Store, error) {
	root, err := t.ws.RootFor(path)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.stores[root]; ok {
		return s, nil
	}
	s, err := history.Open(root, t.lockTimeout, t.warnBytes, t.logger)
	if err != nil {
		return nil, err
	}
	t.stores[root] = s
	return s, nil
}

// track runs the mutation algorithm. Any error before the log append
// aborts the whole operation: locks are released, the error propagates,
// and no entry is recorded. Checkpoint or diff files already written stay
// behind as harmless orphans.
func (t *Tracker) track(m mutation, conv history.ConversationID) (*Result, error) {
	start := time.Now()
	defer t.logger.LogPerformance("track:"+m.toolName, start)

	store, err := t.storeFor(m.path)
	if err != nil {
		return nil, err
	}

	newConversation := false
	if conv == "" {
		conv = history.NewConversationID()
		newConversation = true
	}

	// The log lock serializes the whole mutation within a conversation:
	// the tool_call_index derived from the entry count stays dense, and
	// the append at the end lands under the same critical section. Dry
	// runs write nothing and skip it.
	var entries []history.Entry
	var logLock *lockfile.Lock
	if !m.dryRun {
		logLock, err = store.LockLog(conv)
		if err != nil {
			return nil, err
		}
		defer logLock.Release()

		entries, err = store.ReadLog(conv)
		if err != nil {
			return nil, err
		}
	}

	// File locks in ascending path order; log lock always precedes them.
	locks, err := t.lockPaths(store, m.lockTargets())
	if err != nil {
		return nil, err
	}
	defer releaseAll(locks)

	// Pre-capture.
	hashBefore, exists, err := textdiff.HashFile(m.path)
	if err != nil {
		return nil, err
	}

	op := m.op
	if op == opAuto {
		if exists {
			op = history.OpReplace
		} else {
			op = history.OpCreate
		}
	}

	var oldBytes []byte
	checkpointSource := m.path
	switch op {
	case history.OpCreate:
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, m.path)
		}
	case history.OpReplace, history.OpEdit, history.OpDelete:
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrFileMissing, m.path)
		}
		oldBytes, err = os.ReadFile(m.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", m.path, err)
		}
	case history.OpMove:
		if _, srcExists, herr := textdiff.HashFile(m.sourcePath); herr != nil {
			return nil, herr
		} else if !srcExists {
			return nil, fmt.Errorf("%w: %s", ErrFileMissing, m.sourcePath)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, m.path)
		}
		checkpointSource = m.sourcePath
		hashBefore, _, err = textdiff.HashFile(m.sourcePath)
		if err != nil {
			return nil, err
		}
		exists = false // destination absent by construction
	}

	// Compute the post-state before touching anything so precondition
	// failures (bad selectors, missing anchors) abort cleanly.
	var newBytes []byte
	if m.compute != nil {
		newBytes, err = m.compute(oldBytes, exists || op != history.OpCreate)
		if err != nil {
			return nil, err
		}
	}

	relPath := t.displayPath(store, m.path)

	if m.dryRun {
		diff := textdiff.Unified(relPath, oldBytes, newBytes)
		return &Result{
			Message:        fmt.Sprintf("Dry run: no changes written to %s", m.path),
			ConversationID: conv,
			DryRun:         true,
			Diff:           string(diff),
		}, nil
	}

	// First touch of this logical file in the conversation gets a
	// checkpoint of its exact pre-state. A create of a non-existent file
	// has no pre-state to snapshot; later touches carry null here.
	var checkpointRel *string
	if op != history.OpCreate && !conversationTouched(entries, checkpointSource) {
		content := oldBytes
		if checkpointSource != m.path {
			content, err = os.ReadFile(checkpointSource)
			if err != nil {
				return nil, fmt.Errorf("failed to read %q for checkpoint: %w", checkpointSource, err)
			}
		}
		rel, _, cerr := store.WriteCheckpoint(conv, checkpointSource, content)
		if cerr != nil {
			return nil, cerr
		}
		checkpointRel = &rel
	}

	// Execute.
	switch op {
	case history.OpCreate, history.OpReplace, history.OpEdit:
		if err := fileops.EnsureDir(filepath.Dir(m.path)); err != nil {
			return nil, err
		}
		if err := fileops.AtomicWriteFile(m.path, newBytes, 0o644); err != nil {
			return nil, err
		}
	case history.OpDelete:
		if err := os.Remove(m.path); err != nil {
			return nil, fmt.Errorf("failed to delete %q: %w", m.path, err)
		}
	case history.OpMove:
		if err := fileops.EnsureDir(filepath.Dir(m.path)); err != nil {
			return nil, err
		}
		if err := os.Rename(m.sourcePath, m.path); err != nil {
			return nil, fmt.Errorf("failed to move %q to %q: %w", m.sourcePath, m.path, err)
		}
	}

	// Post-capture.
	var hashAfter *string
	if op != history.OpDelete {
		digest, _, herr := textdiff.HashFile(m.path)
		if herr != nil {
			return nil, herr
		}
		hashAfter = history.StrPtr(digest)
	}

	var diffRel *string
	editID := history.NewEditID()
	if op == history.OpCreate || op == history.OpReplace || op == history.OpEdit {
		if diff := textdiff.Unified(relPath, oldBytes, newBytes); len(diff) > 0 {
			rel, derr := store.WriteDiff(conv, editID, diff)
			if derr != nil {
				return nil, derr
			}
			diffRel = &rel
		}
	}

	var hashBeforePtr *string
	if hashBefore != "" {
		hashBeforePtr = history.StrPtr(hashBefore)
	}
	var sourcePtr *string
	if op == history.OpMove {
		sourcePtr = history.StrPtr(m.sourcePath)
	}

	entry := history.Entry{
		EditID:         editID,
		ConversationID: conv,
		ToolCallIndex:  len(entries),
		Timestamp:      history.Now(),
		Operation:      op,
		FilePath:       m.path,
		SourcePath:     sourcePtr,
		ToolName:       m.toolName,
		Status:         history.StatusPending,
		DiffFile:       diffRel,
		CheckpointFile: checkpointRel,
		HashBefore:     hashBeforePtr,
		HashAfter:      hashAfter,
	}
	if err := store.Append(entry); err != nil {
		return nil, err
	}

	t.logger.Debug("Tracked mutation",
		"edit", editID, "conversation", conv, "op", op,
		"index", entry.ToolCallIndex, "path", m.path)

	return &Result{
		Message:         m.summary(op),
		ConversationID:  conv,
		NewConversation: newConversation,
	}, nil
}

// lockTargets returns the workspace paths this mutation must lock.
func (m *mutation) lockTargets() []string {
	targets := []string{m.path}
	if m.sourcePath != "" {
		targets = append(targets, m.sourcePath)
	}
	return targets
}

// lockPaths acquires file locks in ascending path order (the fixed global
// order that keeps multi-lock callers deadlock-free).
func (t *Tracker) lockPaths(store *history.Store, paths []string) ([]*lockfile.Lock, error) {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	locks := make([]*lockfile.Lock, 0, len(sorted))
	for _, p := range sorted {
		lock, err := store.LockFile(p)
		if err != nil {
			releaseAll(locks)
			return nil, err
		}
		locks = append(locks, lock)
	}
	return locks, nil
}

// releaseAll releases locks in reverse acquisition order.
func releaseAll(locks []*lockfile.Lock) {
	for i := len(locks) - 1; i >= 0; i-- {
		locks[i].Release()
	}
}

// conversationTouched reports whether any recorded entry of the
// conversation already affects path.
func conversationTouched(entries []history.Entry, path string) bool {
	for i := range entries {
		if entries[i].Touches(path) {
			return true
		}
	}
	return false
}

// displayPath returns the workspace-relative form used in diff labels.
func (t *Tracker) displayPath(store *history.Store, abs string) string {
	rel, err := filepath.Rel(store.WorkspaceRoot(), abs)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return filepath.Base(abs)
	}
	return filepath.ToSlash(rel)
}
