package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/0kenx/mcp-servers/internal/lockfile"
	"github.com/0kenx/mcp-servers/internal/logging"
	"github.com/0kenx/mcp-servers/internal/workspace"
	"github.com/0kenx/mcp-servers/pkg/fileops"
)

// Subdirectories of the history root.
const (
	LogsDir        = "logs"
	DiffsDir       = "diffs"
	CheckpointsDir = "checkpoints"

	checkpointSuffix = ".chkpt"
	revertSuffix     = ".chkpt.revert"
)

// Store owns the history subtree of one workspace. Log files are shared
// between the server (appends) and the reviewer (status rewrites) and are
// protected by per-log locks; diff and checkpoint files are write-once and
// need nothing beyond atomic rename.
type Store struct {
	workspaceRoot string
	root          string
	lockTimeout   time.Duration
	warnBytes     int64
	logger        *logging.AppLogger
}

// Open creates (if needed) the history directories under workspaceRoot and
// returns a handle to the store.
func Open(workspaceRoot string, lockTimeout time.Duration, warnBytes int64, logger *logging.AppLogger) (*Store, error) {
	if logger == nil {
		logger = logging.GetDefault()
	}
	root := workspace.HistoryRoot(workspaceRoot)
	for _, sub := range []string{LogsDir, DiffsDir, CheckpointsDir} {
		if err := fileops.EnsureDir(filepath.Join(root, sub)); err != nil {
			return nil, fmt.Errorf("failed to initialize history store: %w", err)
		}
	}
	return &Store{
		workspaceRoot: workspaceRoot,
		root:          root,
		lockTimeout:   lockTimeout,
		warnBytes:     warnBytes,
		logger:        logger,
	}, nil
}

// Root returns the history root directory.
func (s *Store) Root() string {
	return s.root
}

// WorkspaceRoot returns the workspace this store belongs to.
func (s *Store) WorkspaceRoot() string {
	return s.workspaceRoot
}

// LogPath returns the log file path for a conversation.
func (s *Store) LogPath(conv ConversationID) string {
	return filepath.Join(s.root, LogsDir, string(conv)+".log")
}

// LockLog acquires the per-conversation log lock. The caller must release
// it on every exit path.
func (s *Store) LockLog(conv ConversationID) (*lockfile.Lock, error) {
	return lockfile.Acquire(s.LogPath(conv), s.lockTimeout, s.logger)
}

// LockFile acquires the advisory lock guarding a workspace file.
func (s *Store) LockFile(path string) (*lockfile.Lock, error) {
	return lockfile.Acquire(path, s.lockTimeout, s.logger)
}

// Conversations lists every conversation that has a log file.
func (s *Store) Conversations() ([]ConversationID, error) {
	pattern := filepath.Join(s.root, LogsDir, "*.log")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	convs := make([]ConversationID, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".log")
		convs = append(convs, ConversationID(name))
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i] < convs[j] })
	return convs, nil
}

// ReadLog reads a conversation's entries in file order. A trailing line
// that does not parse as complete JSON is discarded rather than treated as
// an error: a concurrent writer may be mid-append.
func (s *Store) ReadLog(conv ConversationID) ([]Entry, error) {
	data, err := os.ReadFile(s.LogPath(conv))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log for conversation %s: %w", conv, err)
	}

	lines := bytes.Split(data, []byte("\n"))
	entries := make([]Entry, 0, len(lines))
	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			if i == len(lines)-1 {
				s.logger.Debug("Discarding unterminated trailing log line", "conversation", conv)
				continue
			}
			s.logger.Warn("Skipping invalid log line", "conversation", conv, "line", i+1, "error", err)
			continue
		}
		if err := e.Validate(); err != nil {
			s.logger.Warn("Skipping malformed log entry", "conversation", conv, "line", i+1, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ReadAll loads every entry from every log, sorted chronologically
// (timestamp, then tool_call_index).
func (s *Store) ReadAll() ([]Entry, error) {
	convs, err := s.Conversations()
	if err != nil {
		return nil, err
	}
	var all []Entry
	for _, conv := range convs {
		entries, err := s.ReadLog(conv)
		if err != nil {
			s.logger.Warn("Skipping unreadable log", "conversation", conv, "error", err)
			continue
		}
		all = append(all, entries...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		ti, tj := all[i].Timestamp.Time(), all[j].Timestamp.Time()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return all[i].ToolCallIndex < all[j].ToolCallIndex
	})
	return all, nil
}

// Append writes one entry to its conversation log and fsyncs. The caller
// must hold the log lock (via LockLog); the lock also serializes the
// derivation of tool_call_index from the current entry count.
func (s *Store) Append(e Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("refusing to append invalid entry: %w", err)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode log entry %s: %w", e.EditID, err)
	}

	path := s.LogPath(e.ConversationID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log %q for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append log entry %s: %w", e.EditID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync log %q: %w", path, err)
	}
	return nil
}

// RewriteStatuses flips the status of the given entries in a conversation
// log. The whole log is read under its lock, modified in memory, written
// to a sibling temp file, and renamed over the original; the rename is the
// commit point. Returns the number of entries changed.
func (s *Store) RewriteStatuses(conv ConversationID, changes map[EditID]Status) (int, error) {
	lock, err := s.LockLog(conv)
	if err != nil {
		return 0, err
	}
	defer lock.Release()

	path := s.LogPath(conv)
	if info, err := os.Stat(path); err == nil && s.warnBytes > 0 && info.Size() > s.warnBytes {
		s.logger.Warn("Log file exceeds rewrite threshold; rewriting in memory anyway",
			"conversation", conv, "size", info.Size(), "threshold", s.warnBytes)
	}

	entries, err := s.ReadLog(conv)
	if err != nil {
		return 0, err
	}

	changed := 0
	var buf bytes.Buffer
	for i := range entries {
		if st, ok := changes[entries[i].EditID]; ok && entries[i].Status != st {
			entries[i].Status = st
			changed++
		}
		line, err := json.Marshal(entries[i])
		if err != nil {
			return 0, fmt.Errorf("failed to encode entry %s: %w", entries[i].EditID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if changed == 0 {
		return 0, nil
	}
	if err := fileops.AtomicWriteFile(path, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("failed to rewrite log for conversation %s: %w", conv, err)
	}
	return changed, nil
}

// CheckpointRel returns the store-relative checkpoint path for a file
// first touched by a conversation.
func (s *Store) CheckpointRel(conv ConversationID, absPath string) string {
	name := SanitizePath(s.workspaceRoot, absPath) + checkpointSuffix
	return filepath.Join(CheckpointsDir, string(conv), name)
}

// WriteCheckpoint snapshots the exact pre-state bytes of absPath for a
// conversation. At most one checkpoint exists per (conversation, path); a
// second attempt is a no-op and reports created=false.
func (s *Store) WriteCheckpoint(conv ConversationID, absPath string, content []byte) (string, bool, error) {
	rel := s.CheckpointRel(conv, absPath)
	full := filepath.Join(s.root, rel)
	if _, err := os.Stat(full); err == nil {
		return rel, false, nil
	}
	if err := fileops.EnsureDir(filepath.Dir(full)); err != nil {
		return "", false, err
	}
	if err := fileops.AtomicWriteFile(full, content, 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write checkpoint for %q: %w", absPath, err)
	}
	s.logger.Debug("Wrote checkpoint", "conversation", conv, "path", absPath, "rel", rel)
	return rel, true, nil
}

// WriteDiff stores the unified diff bytes of a content-changing edit.
func (s *Store) WriteDiff(conv ConversationID, edit EditID, diff []byte) (string, error) {
	rel := filepath.Join(DiffsDir, string(conv), string(edit)+".diff")
	full := filepath.Join(s.root, rel)
	if err := fileops.EnsureDir(filepath.Dir(full)); err != nil {
		return "", err
	}
	if err := fileops.AtomicWriteFile(full, diff, 0o644); err != nil {
		return "", fmt.Errorf("failed to write diff for edit %s: %w", edit, err)
	}
	return rel, nil
}

// WriteRevertSnapshot saves the current on-disk bytes of absPath before a
// replay mutates it, so a failed replay can be rolled back. Revert
// snapshots are transient and removed after a successful replay.
func (s *Store) WriteRevertSnapshot(conv ConversationID, absPath string, content []byte) (string, error) {
	name := SanitizePath(s.workspaceRoot, absPath) + revertSuffix
	rel := filepath.Join(CheckpointsDir, string(conv), name)
	full := filepath.Join(s.root, rel)
	if err := fileops.EnsureDir(filepath.Dir(full)); err != nil {
		return "", err
	}
	if err := fileops.AtomicWriteFile(full, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write revert snapshot for %q: %w", absPath, err)
	}
	return rel, nil
}

// ReadRel reads a store artifact by its history-root-relative path.
func (s *Store) ReadRel(rel string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		return nil, fmt.Errorf("failed to read history artifact %q: %w", rel, err)
	}
	return data, nil
}

// HasRel reports whether a store artifact exists.
func (s *Store) HasRel(rel string) bool {
	_, err := os.Stat(filepath.Join(s.root, rel))
	return err == nil
}

// RemoveRel deletes a store artifact (used only for revert snapshots).
func (s *Store) RemoveRel(rel string) {
	if err := os.Remove(filepath.Join(s.root, rel)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Could not remove history artifact", "rel", rel, "error", err)
	}
}
