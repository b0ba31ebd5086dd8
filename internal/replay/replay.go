// Package replay implements the reviewer side of the edit history engine:
// flipping edit statuses and deterministically reconstructing the file
// state each classification implies.
//
// Reconstruction replays a conversation from the file's checkpoint
// forward, honouring each edit's (proposed) status. The replay runs
// against an in-memory buffer; disk is only touched once the whole chain
// has been computed, guarded by revert snapshots. The observable contract:
// final on-disk state equals the result of applying, in tool_call_index
// order, every non-rejected entry's effect to the checkpoint.
package replay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/0kenx/mcp-servers/internal/history"
	"github.com/0kenx/mcp-servers/internal/lockfile"
	"github.com/0kenx/mcp-servers/internal/logging"
	"github.com/0kenx/mcp-servers/internal/textdiff"
	"github.com/0kenx/mcp-servers/pkg/fileops"
)

var (
	// ErrMissingCheckpoint means a file's base state cannot be
	// established: no checkpoint exists and the first relevant entry is
	// not a create (or the create that would have produced the base state
	// is itself rejected).
	ErrMissingCheckpoint = errors.New("missing checkpoint")

	// ErrExternalModification means the file on disk no longer matches
	// the last recorded post-state and the reviewer declined to discard
	// the external changes.
	ErrExternalModification = errors.New("file modified externally")

	// ErrHashDrift is a consistency-check failure that indicates a bug in
	// the engine or a corrupted log, not a user-correctable condition.
	ErrHashDrift = errors.New("internal hash drift")
)

// ExternalChange describes a detected out-of-band modification, handed to
// the confirmation callback before it may be discarded.
type ExternalChange struct {
	Path         string
	ExpectedHash *string // nil: file expected absent
	ActualHash   *string // nil: file is absent
	Diff         string  // unified diff from expected to actual, when derivable
}

// ConfirmFunc decides whether detected external changes may be discarded.
// A nil callback always aborts.
type ConfirmFunc func(ExternalChange) (bool, error)

// Engine reconstructs workspace files from the history store.
type Engine struct {
	store       *history.Store
	lockTimeout time.Duration
	logger      *logging.AppLogger
	confirm     ConfirmFunc
}

// New builds an Engine over an opened history store.
func New(store *history.Store, lockTimeout time.Duration, confirm ConfirmFunc, logger *logging.AppLogger) *Engine {
	if logger == nil {
		logger = logging.GetDefault()
	}
	return &Engine{
		store:       store,
		lockTimeout: lockTimeout,
		logger:      logger,
		confirm:     confirm,
	}
}

// Outcome reports what a status change did.
type Outcome struct {
	Conversation history.ConversationID
	Flipped      int
	Files        []string
}

// ApplyToEdit re-classifies a single edit and re-materializes the files it
// affects. The replay runs first, against the proposed status; the log is
// only flipped once every affected file reconstructed successfully.
func (e *Engine) ApplyToEdit(entry history.Entry, status history.Status) (*Outcome, error) {
	changes := map[history.EditID]history.Status{entry.EditID: status}
	return e.apply(entry.ConversationID, changes)
}

// ApplyToConversation re-classifies every edit in a conversation.
func (e *Engine) ApplyToConversation(conv history.ConversationID, status history.Status) (*Outcome, error) {
	entries, err := e.store.ReadLog(conv)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries found for conversation %s", conv)
	}
	changes := make(map[history.EditID]history.Status, len(entries))
	for _, entry := range entries {
		if entry.Status != status {
			changes[entry.EditID] = status
		}
	}
	if len(changes) == 0 {
		return &Outcome{Conversation: conv}, nil
	}
	return e.apply(conv, changes)
}

// apply replays every file affected by the proposed status changes, then
// commits the flips to the log.
func (e *Engine) apply(conv history.ConversationID, changes map[history.EditID]history.Status) (*Outcome, error) {
	entries, err := e.store.ReadLog(conv)
	if err != nil {
		return nil, err
	}

	proposed := overrideStatuses(entries, changes)

	// Each changed entry names one or two paths; each path belongs to a
	// logical file whose current name is found by tracing moves forward.
	targets := map[string]bool{}
	for i := range proposed {
		if _, ok := changes[proposed[i].EditID]; !ok {
			continue
		}
		targets[traceForward(proposed, proposed[i].FilePath)] = true
		if proposed[i].SourcePath != nil {
			targets[traceForward(proposed, *proposed[i].SourcePath)] = true
		}
	}

	sortedTargets := make([]string, 0, len(targets))
	for t := range targets {
		sortedTargets = append(sortedTargets, t)
	}
	sort.Strings(sortedTargets)

	for _, target := range sortedTargets {
		if err := e.replayFile(proposed, target); err != nil {
			return nil, fmt.Errorf("replay of %s failed (log statuses unchanged): %w", target, err)
		}
	}

	flipped, err := e.store.RewriteStatuses(conv, changes)
	if err != nil {
		return nil, fmt.Errorf("files were re-materialized but the status flip failed: %w", err)
	}

	return &Outcome{Conversation: conv, Flipped: flipped, Files: sortedTargets}, nil
}

// replayFile reconstructs one logical file, identified by its current
// target path, from its checkpoint forward under the proposed statuses.
func (e *Engine) replayFile(proposed []history.Entry, target string) error {
	names, relevant := traceBack(proposed, target)
	if len(relevant) == 0 {
		return nil
	}

	// Locks on every name the file ever had, in ascending path order:
	// materialization may remove stale siblings of the final name.
	locks, err := e.lockAll(names)
	if err != nil {
		return err
	}
	defer releaseAll(locks)

	if err := e.preflight(target); err != nil {
		return err
	}

	final, err := e.virtualReplay(relevant, func(en history.Entry) history.Status { return en.Status })
	if err != nil {
		return err
	}

	return e.materialize(relevant[0].ConversationID, names, final)
}

// fileState is the result of a virtual replay.
type fileState struct {
	data    []byte
	present bool
	path    string // the name the file ends up with
	// lastHashAfter is the recorded post-hash of the last applied entry,
	// used for the non-fatal final verification.
	lastHashAfter *string
	verified      bool // true when no entry was skipped
}

// virtualReplay applies the relevant entries to an in-memory buffer.
// statusOf decides each entry's effective status: accepted and pending
// apply, rejected skips.
func (e *Engine) virtualReplay(relevant []history.Entry, statusOf func(history.Entry) history.Status) (*fileState, error) {
	st := &fileState{verified: true}

	// Base state: absent for an initial create, else the checkpoint of
	// the file's original name.
	first := relevant[0]
	checkpointRel := firstCheckpoint(relevant)
	switch {
	case checkpointRel != nil:
		data, err := e.store.ReadRel(*checkpointRel)
		if err != nil {
			return nil, fmt.Errorf("%w: unreadable checkpoint for %s: %v", ErrMissingCheckpoint, first.FilePath, err)
		}
		st.data = data
		st.present = true
		st.path = originalName(relevant)
	case first.Operation == history.OpCreate:
		st.present = false
		st.path = first.FilePath
	default:
		return nil, fmt.Errorf("%w: no checkpoint for %s and conversation does not start with create", ErrMissingCheckpoint, first.FilePath)
	}

	for i := range relevant {
		entry := relevant[i]
		if statusOf(entry) == history.StatusRejected {
			st.verified = false
			continue
		}

		needsBase := entry.Operation == history.OpReplace ||
			entry.Operation == history.OpEdit ||
			entry.Operation == history.OpMove
		if needsBase && !st.present {
			// The base this entry builds on was skipped away (e.g. its
			// create was rejected). Report the missing base explicitly
			// rather than patching against nothing. A delete of an absent
			// file needs no base; it stays a no-op.
			return nil, fmt.Errorf("%w: edit %s (%s) has no base state to apply to", ErrMissingCheckpoint, entry.EditID, entry.Operation)
		}

		// While no entry has been skipped, the recorded chain must agree
		// with the reconstruction; a mismatch is an engine bug or a
		// corrupted log.
		if st.verified && !hashMatches(entry.HashBefore, st.data, st.present) {
			return nil, fmt.Errorf("%w: edit %s recorded hash_before %s but replay reached %s",
				ErrHashDrift, entry.EditID, strOrNull(entry.HashBefore), currentHashLabel(st))
		}

		switch entry.Operation {
		case history.OpCreate, history.OpReplace, history.OpEdit:
			if entry.DiffFile == nil {
				// No textual change was recorded (identical rewrite, or a
				// create of an empty file).
				if entry.Operation == history.OpCreate {
					st.data = nil
					st.present = true
				}
			} else {
				diff, err := e.store.ReadRel(*entry.DiffFile)
				if err != nil {
					return nil, err
				}
				var base []byte
				if entry.Operation != history.OpCreate {
					base = st.data
				}
				next, err := textdiff.Apply(base, diff)
				if err != nil {
					return nil, fmt.Errorf("edit %s: %w", entry.EditID, err)
				}
				st.data = next
				st.present = true
			}
		case history.OpDelete:
			st.data = nil
			st.present = false
		case history.OpMove:
			st.path = entry.FilePath
		}

		st.lastHashAfter = entry.HashAfter
	}

	return st, nil
}

// preflight verifies that the file on disk still matches the state the
// log implies under the current statuses (rejected entries contribute
// nothing, which is what the disk should reflect). A disagreement means
// the file was altered externally and needs explicit consent to be
// discarded.
func (e *Engine) preflight(target string) error {
	conv, entries := e.owningConversation(target)
	if conv == "" {
		// The file has no recorded history; nothing to verify.
		return nil
	}
	_, relevant := traceBack(entries, target)
	if len(relevant) == 0 {
		return nil
	}

	st, err := e.virtualReplay(relevant, func(en history.Entry) history.Status { return en.Status })
	if err != nil {
		// The recorded chain itself cannot be reconstructed under current
		// statuses; the per-entry checks of the real replay will surface
		// the precise failure.
		e.logger.Warn("Preflight could not reconstruct expected state", "path", target, "error", err)
		return nil
	}

	var expected *string
	if st.present {
		expected = history.StrPtr(textdiff.Hash(st.data))
	}

	actualHash, exists, err := textdiff.HashFile(target)
	if err != nil {
		return err
	}
	var actual *string
	if exists {
		actual = &actualHash
	}

	if hashPtrEqual(expected, actual) {
		return nil
	}

	change := ExternalChange{Path: target, ExpectedHash: expected, ActualHash: actual}
	var actualData []byte
	if exists {
		if data, rerr := os.ReadFile(target); rerr == nil {
			actualData = data
		}
	}
	change.Diff = string(textdiff.Unified(filepath.Base(target), st.data, actualData))

	e.logger.Warn("External modification detected",
		"path", target, "expected", strOrNull(expected), "actual", strOrNull(actual))

	if e.confirm == nil {
		return fmt.Errorf("%w: %s (expected %s, found %s)", ErrExternalModification,
			target, strOrNull(expected), strOrNull(actual))
	}
	ok, err := e.confirm(change)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s (reviewer declined to discard)", ErrExternalModification, target)
	}
	return nil
}

// owningConversation finds the conversation whose log most recently
// recorded the file.
func (e *Engine) owningConversation(target string) (history.ConversationID, []history.Entry) {
	all, err := e.store.ReadAll()
	if err != nil {
		return "", nil
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Touches(target) {
			conv := all[i].ConversationID
			entries, err := e.store.ReadLog(conv)
			if err != nil {
				return "", nil
			}
			return conv, entries
		}
	}
	return "", nil
}

// materialize commits the replayed state to disk. Every current on-disk
// file among the logical file's names is snapshotted first; a failure
// restores the snapshots so a half-applied replay never survives.
func (e *Engine) materialize(conv history.ConversationID, names []string, final *fileState) error {
	type snapshot struct {
		path string
		rel  string // empty: file was absent
	}
	snapshots := make([]snapshot, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			if os.IsNotExist(err) {
				snapshots = append(snapshots, snapshot{path: name})
				continue
			}
			return fmt.Errorf("failed to snapshot %q before replay: %w", name, err)
		}
		rel, err := e.store.WriteRevertSnapshot(conv, name, data)
		if err != nil {
			return err
		}
		snapshots = append(snapshots, snapshot{path: name, rel: rel})
	}

	rollback := func() {
		for _, snap := range snapshots {
			if snap.rel == "" {
				os.Remove(snap.path)
				continue
			}
			data, err := e.store.ReadRel(snap.rel)
			if err != nil {
				e.logger.Error("Rollback could not read snapshot", "path", snap.path, "error", err)
				continue
			}
			if err := fileops.AtomicWriteFile(snap.path, data, 0o644); err != nil {
				e.logger.Error("Rollback could not restore file", "path", snap.path, "error", err)
			}
		}
	}

	commit := func() error {
		for _, name := range names {
			if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to clear %q: %w", name, err)
			}
		}
		if final.present {
			if err := fileops.EnsureDir(filepath.Dir(final.path)); err != nil {
				return err
			}
			if err := fileops.AtomicWriteFile(final.path, final.data, 0o644); err != nil {
				return err
			}
		}
		return nil
	}

	if err := commit(); err != nil {
		rollback()
		return err
	}

	// Final verification: warn, never lie about success.
	if final.present {
		digest, _, err := textdiff.HashFile(final.path)
		if err == nil && final.verified && final.lastHashAfter != nil && digest != *final.lastHashAfter {
			e.logger.Warn("Final state differs from recorded hash",
				"path", final.path, "expected", *final.lastHashAfter, "actual", digest)
		}
	}

	for _, snap := range snapshots {
		if snap.rel != "" {
			e.store.RemoveRel(snap.rel)
		}
	}
	return nil
}

// Cleanup removes stale locks under the history root. With force set, all
// locks are removed regardless of holder liveness.
func (e *Engine) Cleanup(force bool) (int, error) {
	return lockfile.CleanupStale(e.store.Root(), force, e.logger)
}

// Store exposes the underlying history store for read-side commands.
func (e *Engine) Store() *history.Store {
	return e.store
}

func (e *Engine) lockAll(names []string) ([]*lockfile.Lock, error) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	locks := make([]*lockfile.Lock, 0, len(sorted))
	for _, name := range sorted {
		lock, err := lockfile.Acquire(name, e.lockTimeout, e.logger)
		if err != nil {
			releaseAll(locks)
			return nil, err
		}
		locks = append(locks, lock)
	}
	return locks, nil
}

func releaseAll(locks []*lockfile.Lock) {
	for i := len(locks) - 1; i >= 0; i-- {
		locks[i].Release()
	}
}

// overrideStatuses returns a copy of entries with the proposed statuses
// applied.
func overrideStatuses(entries []history.Entry, changes map[history.EditID]history.Status) []history.Entry {
	out := make([]history.Entry, len(entries))
	copy(out, entries)
	for i := range out {
		if st, ok := changes[out[i].EditID]; ok {
			out[i].Status = st
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ToolCallIndex < out[j].ToolCallIndex })
	return out
}

// traceForward follows moves to find the name a file ends up with.
func traceForward(entries []history.Entry, path string) string {
	current := path
	for i := range entries {
		if entries[i].Operation == history.OpMove &&
			entries[i].SourcePath != nil && *entries[i].SourcePath == current {
			current = entries[i].FilePath
		}
	}
	return current
}

// traceBack walks backward through moves from target to find every name
// the file had inside the conversation, and collects the entries touching
// any of those names in ascending tool_call_index order.
func traceBack(entries []history.Entry, target string) ([]string, []history.Entry) {
	nameSet := map[string]bool{target: true}
	current := target
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Operation == history.OpMove && entries[i].FilePath == current &&
			entries[i].SourcePath != nil {
			current = *entries[i].SourcePath
			nameSet[current] = true
		}
	}

	var relevant []history.Entry
	for i := range entries {
		if nameSet[entries[i].FilePath] ||
			(entries[i].SourcePath != nil && nameSet[*entries[i].SourcePath]) {
			relevant = append(relevant, entries[i])
		}
	}
	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].ToolCallIndex < relevant[j].ToolCallIndex
	})

	names := make([]string, 0, len(nameSet))
	for n := range nameSet {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, relevant
}

// firstCheckpoint returns the first recorded checkpoint among the relevant
// entries; it represents the state immediately before the conversation's
// first touch of the file.
func firstCheckpoint(relevant []history.Entry) *string {
	for i := range relevant {
		if relevant[i].CheckpointFile != nil {
			return relevant[i].CheckpointFile
		}
	}
	return nil
}

// originalName returns the first name the file had in the conversation:
// the source of its first move, or its first target path.
func originalName(relevant []history.Entry) string {
	first := relevant[0]
	if first.Operation == history.OpMove && first.SourcePath != nil {
		return *first.SourcePath
	}
	return first.FilePath
}

func hashMatches(recorded *string, data []byte, present bool) bool {
	if recorded == nil {
		return !present
	}
	if !present {
		return false
	}
	return textdiff.Hash(data) == *recorded
}

func hashPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func currentHashLabel(st *fileState) string {
	if !st.present {
		return "absent"
	}
	return textdiff.Hash(st.data)
}

func strOrNull(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}
