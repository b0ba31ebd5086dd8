// Package history implements the on-disk edit history store that backs the
// filesystem server: JSON-lines logs grouped by conversation, write-once
// unified diff files, and write-once checkpoint snapshots, all living under
// .mcp/edit_history/ inside a workspace.
package history

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EditID identifies a single recorded mutation. Opaque on the wire; the
// distinct type prevents accidental cross-use with conversation IDs.
type EditID string

// ConversationID groups the edits of one LM turn.
type ConversationID string

// NewEditID returns a fresh collision-resistant edit identifier.
func NewEditID() EditID {
	return EditID(uuid.NewString())
}

// NewConversationID returns a fresh conversation identifier: the lowercase
// hex of the current nanosecond epoch. Short, sortable, prefix-friendly.
func NewConversationID() ConversationID {
	return ConversationID(strconv.FormatInt(time.Now().UnixNano(), 16))
}

// Operation is the kind of mutation an entry records.
type Operation string

const (
	OpCreate  Operation = "create"
	OpReplace Operation = "replace"
	OpEdit    Operation = "edit"
	OpDelete  Operation = "delete"
	OpMove    Operation = "move"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpReplace, OpEdit, OpDelete, OpMove:
		return true
	}
	return false
}

// Status is the review classification of an entry. Edits may be
// re-classified at any time while the log exists; there are no terminal
// states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Valid reports whether st is a known status.
func (st Status) Valid() bool {
	switch st {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// timestampLayout is RFC 3339 UTC with millisecond resolution.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp marshals as an ISO-8601 UTC instant with sub-second resolution.
type Timestamp time.Time

// Now returns the current instant as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UTC())
}

// Time converts back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(timestampLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// Entry is one recorded mutation, serialized as a single JSON line in its
// conversation's log file.
type Entry struct {
	EditID         EditID         `json:"edit_id"`
	ConversationID ConversationID `json:"conversation_id"`
	ToolCallIndex  int            `json:"tool_call_index"`
	Timestamp      Timestamp      `json:"timestamp"`
	Operation      Operation      `json:"operation"`
	FilePath       string         `json:"file_path"`
	SourcePath     *string        `json:"source_path"`
	ToolName       string         `json:"tool_name"`
	Status         Status         `json:"status"`
	DiffFile       *string        `json:"diff_file"`
	CheckpointFile *string        `json:"checkpoint_file"`
	HashBefore     *string        `json:"hash_before"`
	HashAfter      *string        `json:"hash_after"`
}

// Validate checks the structural invariants of a decoded entry.
func (e *Entry) Validate() error {
	if e.EditID == "" {
		return fmt.Errorf("entry missing edit_id")
	}
	if e.ConversationID == "" {
		return fmt.Errorf("entry %s missing conversation_id", e.EditID)
	}
	if e.ToolCallIndex < 0 {
		return fmt.Errorf("entry %s has negative tool_call_index", e.EditID)
	}
	if !e.Operation.Valid() {
		return fmt.Errorf("entry %s has unknown operation %q", e.EditID, e.Operation)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("entry %s has unknown status %q", e.EditID, e.Status)
	}
	if e.FilePath == "" {
		return fmt.Errorf("entry %s missing file_path", e.EditID)
	}
	if (e.SourcePath != nil) != (e.Operation == OpMove) {
		return fmt.Errorf("entry %s: source_path must be set exactly for move operations", e.EditID)
	}
	return nil
}

// Touches reports whether the entry affects path, either as its target or
// as the source of a move.
func (e *Entry) Touches(path string) bool {
	if e.FilePath == path {
		return true
	}
	return e.SourcePath != nil && *e.SourcePath == path
}

// StrPtr is a small helper for the nullable string fields.
func StrPtr(s string) *string {
	return &s
}
