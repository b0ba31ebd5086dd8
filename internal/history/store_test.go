package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/0kenx/mcp-servers/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := logging.NewTestLogger()
	store, err := Open(t.TempDir(), time.Second, 0, logger)
	require.NoError(t, err)
	return store
}

func appendEntries(t *testing.T, store *Store, conv ConversationID, n int) []Entry {
	t.Helper()
	lock, err := store.LockLog(conv)
	require.NoError(t, err)
	defer lock.Release()

	var entries []Entry
	for i := 0; i < n; i++ {
		e := validEntry()
		e.ConversationID = conv
		e.ToolCallIndex = i
		e.FilePath = fmt.Sprintf("/ws/file%d.txt", i)
		require.NoError(t, store.Append(e))
		entries = append(entries, e)
	}
	return entries
}

func TestOpenCreatesLayout(t *testing.T) {
	root := t.TempDir()
	logger, _ := logging.NewTestLogger()
	store, err := Open(root, time.Second, 0, logger)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(store.Root(), LogsDir))
	assert.DirExists(t, filepath.Join(store.Root(), DiffsDir))
	assert.DirExists(t, filepath.Join(store.Root(), CheckpointsDir))
	assert.Equal(t, filepath.Join(root, ".mcp", "edit_history"), store.Root())
}

func TestAppendAndReadLog(t *testing.T) {
	store := testStore(t)
	conv := ConversationID("c1")
	written := appendEntries(t, store, conv, 3)

	entries, err := store.ReadLog(conv)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i, e.ToolCallIndex)
		assert.Equal(t, written[i].EditID, e.EditID)
	}
}

func TestReadLogMissingConversation(t *testing.T) {
	store := testStore(t)
	entries, err := store.ReadLog("nope")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadLogToleratesPartialTrailingLine(t *testing.T) {
	store := testStore(t)
	conv := ConversationID("c1")
	appendEntries(t, store, conv, 2)

	// Simulate a concurrent writer caught mid-append: an unterminated,
	// incomplete JSON fragment at the end of the file.
	f, err := os.OpenFile(store.LogPath(conv), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"edit_id":"truncat`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := store.ReadLog(conv)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAppendRejectsInvalidEntry(t *testing.T) {
	store := testStore(t)
	e := validEntry()
	e.Operation = "bogus"
	assert.Error(t, store.Append(e))
}

func TestRewriteStatuses(t *testing.T) {
	store := testStore(t)
	conv := ConversationID("c1")
	written := appendEntries(t, store, conv, 3)

	changed, err := store.RewriteStatuses(conv, map[EditID]Status{
		written[1].EditID: StatusAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	entries, err := store.ReadLog(conv)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, entries[0].Status)
	assert.Equal(t, StatusAccepted, entries[1].Status)
	assert.Equal(t, StatusPending, entries[2].Status)

	t.Run("no-op flip reports zero", func(t *testing.T) {
		changed, err := store.RewriteStatuses(conv, map[EditID]Status{
			written[1].EditID: StatusAccepted,
		})
		require.NoError(t, err)
		assert.Zero(t, changed)
	})

	t.Run("statuses may toggle back", func(t *testing.T) {
		changed, err := store.RewriteStatuses(conv, map[EditID]Status{
			written[1].EditID: StatusRejected,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, changed)

		entries, err := store.ReadLog(conv)
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, entries[1].Status)
	})
}

func TestWriteCheckpointIdempotent(t *testing.T) {
	store := testStore(t)
	conv := ConversationID("c1")
	target := filepath.Join(store.WorkspaceRoot(), "a.txt")

	rel, created, err := store.WriteCheckpoint(conv, target, []byte("original\n"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, strings.HasPrefix(rel, CheckpointsDir))
	assert.True(t, strings.HasSuffix(rel, ".chkpt"))

	data, err := store.ReadRel(rel)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))

	// A second snapshot attempt must not overwrite the first.
	rel2, created, err := store.WriteCheckpoint(conv, target, []byte("changed\n"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rel, rel2)

	data, err = store.ReadRel(rel)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))
}

func TestWriteDiff(t *testing.T) {
	store := testStore(t)
	conv := ConversationID("c1")
	edit := NewEditID()

	rel, err := store.WriteDiff(conv, edit, []byte("--- a/x\n+++ b/x\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(DiffsDir, string(conv), string(edit)+".diff"), rel)
	assert.True(t, store.HasRel(rel))
}

func TestConversations(t *testing.T) {
	store := testStore(t)
	appendEntries(t, store, "beta", 1)
	appendEntries(t, store, "alpha", 1)

	convs, err := store.Conversations()
	require.NoError(t, err)
	assert.Equal(t, []ConversationID{"alpha", "beta"}, convs)
}

func TestReadAllSortsChronologically(t *testing.T) {
	store := testStore(t)

	older := validEntry()
	older.ConversationID = "c2"
	older.Timestamp = Timestamp(time.Now().Add(-time.Hour).UTC())

	newer := validEntry()
	newer.ConversationID = "c1"
	newer.Timestamp = Now()

	for _, e := range []Entry{newer, older} {
		lock, err := store.LockLog(e.ConversationID)
		require.NoError(t, err)
		require.NoError(t, store.Append(e))
		lock.Release()
	}

	all, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, older.EditID, all[0].EditID)
	assert.Equal(t, newer.EditID, all[1].EditID)
}
