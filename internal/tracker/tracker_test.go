package tracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0kenx/mcp-servers/internal/history"
	"github.com/0kenx/mcp-servers/internal/logging"
	"github.com/0kenx/mcp-servers/internal/textdiff"
	"github.com/0kenx/mcp-servers/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	root := t.TempDir()
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	logger, _ := logging.NewTestLogger()
	ws, err := workspace.New([]string{resolved}, logger)
	require.NoError(t, err)

	return New(ws, 2*time.Second, 0, logger), resolved
}

func readLog(t *testing.T, tr *Tracker, path string, conv history.ConversationID) []history.Entry {
	t.Helper()
	store, err := tr.storeFor(path)
	require.NoError(t, err)
	entries, err := store.ReadLog(conv)
	require.NoError(t, err)
	return entries
}

func writeWorkspaceFile(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// The S1 scenario: a content-anchored edit on a fresh workspace captures
// hashes, a diff, and a checkpoint, and leaves the entry pending.
func TestEditContentCapturesHistory(t *testing.T) {
	tr, root := newTestTracker(t)
	path := writeWorkspaceFile(t, root, "a.txt", "hello\n")

	result, err := tr.EditContent(path, map[string]string{"hello": "world"}, nil, true, false, "")
	require.NoError(t, err)
	assert.True(t, result.NewConversation)
	assert.NotEmpty(t, result.ConversationID)
	assert.Contains(t, result.FormatMessage(), string(result.ConversationID))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "world\n", string(data))

	entries := readLog(t, tr, path, result.ConversationID)
	require.Len(t, entries, 1)
	e := entries[0]

	assert.Equal(t, history.OpEdit, e.Operation)
	assert.Equal(t, history.StatusPending, e.Status)
	assert.Equal(t, 0, e.ToolCallIndex)
	assert.Equal(t, path, e.FilePath)
	require.NotNil(t, e.HashBefore)
	assert.Equal(t, textdiff.Hash([]byte("hello\n")), *e.HashBefore)
	require.NotNil(t, e.HashAfter)
	assert.Equal(t, textdiff.Hash([]byte("world\n")), *e.HashAfter)

	store, err := tr.storeFor(path)
	require.NoError(t, err)

	require.NotNil(t, e.DiffFile)
	diff, err := store.ReadRel(*e.DiffFile)
	require.NoError(t, err)
	patched, err := textdiff.Apply([]byte("hello\n"), diff)
	require.NoError(t, err)
	assert.Equal(t, "world\n", string(patched))

	require.NotNil(t, e.CheckpointFile)
	checkpoint, err := store.ReadRel(*e.CheckpointFile)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(checkpoint))
}

func TestWriteFileClassification(t *testing.T) {
	tr, root := newTestTracker(t)
	path := filepath.Join(root, "b.txt")

	res1, err := tr.WriteFile(path, "one\n", "")
	require.NoError(t, err)

	res2, err := tr.WriteFile(path, "two\n", res1.ConversationID)
	require.NoError(t, err)
	assert.False(t, res2.NewConversation)

	entries := readLog(t, tr, path, res1.ConversationID)
	require.Len(t, entries, 2)

	assert.Equal(t, history.OpCreate, entries[0].Operation)
	assert.Nil(t, entries[0].HashBefore)
	assert.Nil(t, entries[0].CheckpointFile)

	assert.Equal(t, history.OpReplace, entries[1].Operation)
	require.NotNil(t, entries[1].HashBefore)

	// Hash chain: the earlier hash_after equals the later hash_before.
	assert.Equal(t, *entries[0].HashAfter, *entries[1].HashBefore)

	// Dense ascending indices starting at 0.
	for i, e := range entries {
		assert.Equal(t, i, e.ToolCallIndex)
	}
}

func TestCheckpointOncePerConversation(t *testing.T) {
	tr, root := newTestTracker(t)
	path := writeWorkspaceFile(t, root, "c.txt", "v0\n")

	res, err := tr.WriteFile(path, "v1\n", "")
	require.NoError(t, err)
	_, err = tr.WriteFile(path, "v2\n", res.ConversationID)
	require.NoError(t, err)

	entries := readLog(t, tr, path, res.ConversationID)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].CheckpointFile)

	store, err := tr.storeFor(path)
	require.NoError(t, err)
	checkpoint, err := store.ReadRel(*entries[0].CheckpointFile)
	require.NoError(t, err)
	// The checkpoint holds the pre-conversation state, not v1.
	assert.Equal(t, "v0\n", string(checkpoint))
}

func TestEditLines(t *testing.T) {
	tr, root := newTestTracker(t)

	t.Run("selectors against original numbering", func(t *testing.T) {
		path := writeWorkspaceFile(t, root, "lines.txt", "one\ntwo\nthree\nfour\n")

		_, err := tr.EditLines(path, map[string]string{
			"2":  "TWO\n",
			"4":  "FOUR\n",
			"0i": "header\n",
			"a":  "tail\n",
		}, false, "")
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "header\none\nTWO\nthree\nFOUR\ntail\n", string(data))
	})

	t.Run("range replacement and deletion", func(t *testing.T) {
		path := writeWorkspaceFile(t, root, "range.txt", "a\nb\nc\nd\ne\n")

		_, err := tr.EditLines(path, map[string]string{
			"2-3": "X\n",
			"5":   "",
		}, false, "")
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "a\nX\nd\n", string(data))
	})

	t.Run("overlapping ranges rejected", func(t *testing.T) {
		path := writeWorkspaceFile(t, root, "conflict.txt", "a\nb\nc\n")

		_, err := tr.EditLines(path, map[string]string{
			"1-2": "X\n",
			"2":   "Y\n",
		}, false, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConflictingEdit)

		// Nothing changed and nothing was logged.
		data, _ := os.ReadFile(path)
		assert.Equal(t, "a\nb\nc\n", string(data))
	})

	t.Run("out of range selector", func(t *testing.T) {
		path := writeWorkspaceFile(t, root, "short.txt", "a\n")
		_, err := tr.EditLines(path, map[string]string{"5": "X\n"}, false, "")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := tr.EditLines(filepath.Join(root, "absent.txt"), map[string]string{"1": "X\n"}, false, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFileMissing)
	})
}

func TestEditContentAnchors(t *testing.T) {
	tr, root := newTestTracker(t)

	t.Run("anchor not found", func(t *testing.T) {
		path := writeWorkspaceFile(t, root, "anchor.txt", "hello\n")
		_, err := tr.EditContent(path, map[string]string{"missing": "x"}, nil, true, false, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAnchorNotFound)
	})

	t.Run("insert after anchor", func(t *testing.T) {
		path := writeWorkspaceFile(t, root, "ins.txt", "import os\nbody\n")
		_, err := tr.EditContent(path, nil, map[string]string{"import os\n": "import sys\n"}, false, false, "")
		require.NoError(t, err)

		data, _ := os.ReadFile(path)
		assert.Equal(t, "import os\nimport sys\nbody\n", string(data))
	})

	t.Run("insert at beginning", func(t *testing.T) {
		path := writeWorkspaceFile(t, root, "head.txt", "body\n")
		_, err := tr.EditContent(path, nil, map[string]string{"": "header\n"}, true, false, "")
		require.NoError(t, err)

		data, _ := os.ReadFile(path)
		assert.Equal(t, "header\nbody\n", string(data))
	})

	t.Run("replace only first occurrence", func(t *testing.T) {
		path := writeWorkspaceFile(t, root, "first.txt", "x\nx\n")
		_, err := tr.EditContent(path, map[string]string{"x": "y"}, nil, false, false, "")
		require.NoError(t, err)

		data, _ := os.ReadFile(path)
		assert.Equal(t, "y\nx\n", string(data))
	})
}

func TestDryRunWritesNothing(t *testing.T) {
	tr, root := newTestTracker(t)
	path := writeWorkspaceFile(t, root, "dry.txt", "hello\n")

	result, err := tr.EditContent(path, map[string]string{"hello": "world"}, nil, true, true, "")
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Contains(t, result.Diff, "-hello")
	assert.Contains(t, result.Diff, "+world")

	// File untouched.
	data, _ := os.ReadFile(path)
	assert.Equal(t, "hello\n", string(data))

	// No log entry recorded.
	entries := readLog(t, tr, path, result.ConversationID)
	assert.Empty(t, entries)
}

func TestDelete(t *testing.T) {
	tr, root := newTestTracker(t)
	path := writeWorkspaceFile(t, root, "del.txt", "bye\n")

	res, err := tr.Delete(path, "")
	require.NoError(t, err)
	assert.NoFileExists(t, path)

	entries := readLog(t, tr, path, res.ConversationID)
	require.Len(t, entries, 1)
	assert.Equal(t, history.OpDelete, entries[0].Operation)
	assert.Nil(t, entries[0].HashAfter)
	require.NotNil(t, entries[0].HashBefore)
	require.NotNil(t, entries[0].CheckpointFile)

	t.Run("deleting a missing file fails", func(t *testing.T) {
		_, err := tr.Delete(path, res.ConversationID)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFileMissing)
	})
}

func TestMove(t *testing.T) {
	tr, root := newTestTracker(t)

	t.Run("records source and destination", func(t *testing.T) {
		src := writeWorkspaceFile(t, root, "old.txt", "content\n")
		dst := filepath.Join(root, "new.txt")

		res, err := tr.Move(src, dst, "")
		require.NoError(t, err)
		assert.NoFileExists(t, src)
		assert.FileExists(t, dst)

		entries := readLog(t, tr, dst, res.ConversationID)
		require.Len(t, entries, 1)
		e := entries[0]
		assert.Equal(t, history.OpMove, e.Operation)
		assert.Equal(t, dst, e.FilePath)
		require.NotNil(t, e.SourcePath)
		assert.Equal(t, src, *e.SourcePath)
		assert.Nil(t, e.DiffFile)
		require.NotNil(t, e.HashBefore)
		require.NotNil(t, e.HashAfter)
		assert.Equal(t, *e.HashBefore, *e.HashAfter)
		// The checkpoint snapshots the source, the file's original name.
		require.NotNil(t, e.CheckpointFile)
	})

	t.Run("existing destination refused", func(t *testing.T) {
		src := writeWorkspaceFile(t, root, "s.txt", "s\n")
		dst := writeWorkspaceFile(t, root, "d.txt", "d\n")

		_, err := tr.Move(src, dst, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFileExists)
		// Neither endpoint was altered.
		assert.FileExists(t, src)
		data, _ := os.ReadFile(dst)
		assert.Equal(t, "d\n", string(data))
	})

	t.Run("destination outside the workspace fails before any change", func(t *testing.T) {
		src := writeWorkspaceFile(t, root, "stay.txt", "stay\n")
		outside := filepath.Join(os.TempDir(), "escape.txt")

		_, err := tr.Move(src, outside, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, workspace.ErrOutsideWorkspace)
		assert.FileExists(t, src)
	})
}

func TestCreateExistingFileRefused(t *testing.T) {
	tr, root := newTestTracker(t)
	path := writeWorkspaceFile(t, root, "exists.txt", "x\n")

	// Whole-file writes classify as replace for existing files, so force
	// the create path directly.
	validated, err := tr.ws.Validate(path)
	require.NoError(t, err)
	_, err = tr.track(mutation{
		op:       history.OpCreate,
		toolName: "write_file",
		path:     validated,
		compute:  func([]byte, bool) ([]byte, error) { return []byte("y\n"), nil },
		summary:  func(history.Operation) string { return "created" },
	}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileExists)
}

func TestIdenticalRewriteHasNoDiff(t *testing.T) {
	tr, root := newTestTracker(t)
	path := writeWorkspaceFile(t, root, "same.txt", "same\n")

	res, err := tr.WriteFile(path, "same\n", "")
	require.NoError(t, err)

	entries := readLog(t, tr, path, res.ConversationID)
	require.Len(t, entries, 1)
	assert.Equal(t, history.OpReplace, entries[0].Operation)
	assert.Nil(t, entries[0].DiffFile)
	assert.Equal(t, *entries[0].HashBefore, *entries[0].HashAfter)
}

func TestOutsideWorkspaceRejected(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.WriteFile("/etc/shadow-copy", "x", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, workspace.ErrOutsideWorkspace)
}
