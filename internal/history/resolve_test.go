package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entriesForResolve() []Entry {
	mk := func(edit EditID, conv ConversationID) Entry {
		e := validEntry()
		e.EditID = edit
		e.ConversationID = conv
		return e
	}
	return []Entry{
		mk("aaa111", "18f3c2d4e5"),
		mk("aab222", "18f3c2d4e5"),
		mk("bbb333", "28f9887766"),
	}
}

func TestResolveEdit(t *testing.T) {
	entries := entriesForResolve()

	t.Run("unique prefix", func(t *testing.T) {
		m := ResolveEdit(entries, "bbb")
		require.Equal(t, MatchUnique, m.Kind)
		assert.Equal(t, EditID("bbb333"), m.Entries[0].EditID)
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		m := ResolveEdit(entries, "aa")
		assert.Equal(t, MatchAmbiguous, m.Kind)
		assert.Len(t, m.Entries, 2)
	})

	t.Run("exact match wins over ambiguity", func(t *testing.T) {
		withExact := append(entriesForResolve(), func() Entry {
			e := validEntry()
			e.EditID = "aa"
			return e
		}())
		m := ResolveEdit(withExact, "aa")
		require.Equal(t, MatchUnique, m.Kind)
		assert.Equal(t, EditID("aa"), m.Entries[0].EditID)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Equal(t, MatchNone, ResolveEdit(entries, "zzz").Kind)
	})

	t.Run("empty prefix", func(t *testing.T) {
		assert.Equal(t, MatchNone, ResolveEdit(entries, "").Kind)
	})
}

func TestResolveConversation(t *testing.T) {
	entries := entriesForResolve()

	t.Run("unique prefix", func(t *testing.T) {
		m := ResolveConversation(entries, "28f")
		require.Equal(t, MatchUnique, m.Kind)
		assert.Equal(t, ConversationID("28f9887766"), m.IDs[0])
	})

	t.Run("suffix fallback", func(t *testing.T) {
		m := ResolveConversation(entries, "7766")
		require.Equal(t, MatchUnique, m.Kind)
		assert.Equal(t, ConversationID("28f9887766"), m.IDs[0])
	})

	t.Run("ambiguous", func(t *testing.T) {
		more := append(entriesForResolve(), func() Entry {
			e := validEntry()
			e.ConversationID = "28f1112222"
			return e
		}())
		m := ResolveConversation(more, "28f")
		assert.Equal(t, MatchAmbiguous, m.Kind)
		assert.Len(t, m.IDs, 2)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Equal(t, MatchNone, ResolveConversation(entries, "ffff").Kind)
	})
}

func TestFilterApply(t *testing.T) {
	now := time.Now()
	mk := func(conv ConversationID, file string, st Status, op Operation, age time.Duration) Entry {
		e := validEntry()
		e.ConversationID = conv
		e.FilePath = file
		e.Status = st
		e.Operation = op
		e.Timestamp = Timestamp(now.Add(-age).UTC())
		return e
	}

	entries := []Entry{
		mk("c1", "/ws/a.txt", StatusPending, OpEdit, 3*time.Hour),
		mk("c1", "/ws/b.txt", StatusAccepted, OpCreate, 2*time.Hour),
		mk("c2", "/ws/a.txt", StatusPending, OpDelete, time.Hour),
	}

	t.Run("no filter returns newest first", func(t *testing.T) {
		out := Filter{}.Apply(entries)
		require.Len(t, out, 3)
		assert.Equal(t, ConversationID("c2"), out[0].ConversationID)
		assert.Equal(t, "/ws/a.txt", out[2].FilePath)
	})

	t.Run("by conversation", func(t *testing.T) {
		out := Filter{Conversation: "c1"}.Apply(entries)
		assert.Len(t, out, 2)
	})

	t.Run("by file substring", func(t *testing.T) {
		out := Filter{File: "a.txt"}.Apply(entries)
		assert.Len(t, out, 2)
	})

	t.Run("by status", func(t *testing.T) {
		out := Filter{Status: StatusAccepted}.Apply(entries)
		require.Len(t, out, 1)
		assert.Equal(t, OpCreate, out[0].Operation)
	})

	t.Run("by operation", func(t *testing.T) {
		out := Filter{Operation: OpDelete}.Apply(entries)
		assert.Len(t, out, 1)
	})

	t.Run("by age", func(t *testing.T) {
		out := Filter{MaxAge: 90 * 60, NowUnix: now.Unix()}.Apply(entries)
		require.Len(t, out, 1)
		assert.Equal(t, ConversationID("c2"), out[0].ConversationID)
	})

	t.Run("limit truncates after reversal", func(t *testing.T) {
		out := Filter{Limit: 1}.Apply(entries)
		require.Len(t, out, 1)
		assert.Equal(t, ConversationID("c2"), out[0].ConversationID)
	})

	t.Run("idempotent", func(t *testing.T) {
		f := Filter{Conversation: "c1"}
		first := f.Apply(entries)
		second := f.Apply(entries)
		assert.Equal(t, first, second)
	})
}
