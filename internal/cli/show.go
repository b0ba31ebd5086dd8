package cli

import (
	"fmt"

	"github.com/0kenx/mcp-servers/internal/history"

	"github.com/spf13/cobra"
)

// NewShowCommand prints the diff of an edit, or every diff of a
// conversation. The identifier may be a prefix of either; an unambiguous
// edit-id match takes precedence.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show ID",
		Aliases: []string{"sh", "s"},
		Short:   "Print diff(s) for an edit or conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts)
			if err != nil {
				return err
			}
			identifier := args[0]

			entries, err := s.store.ReadAll()
			if err != nil {
				return err
			}

			editMatch := history.ResolveEdit(entries, identifier)
			convMatch := history.ResolveConversation(entries, identifier)

			switch {
			case editMatch.Kind == history.MatchUnique:
				printEntryDiff(s, editMatch.Entries[0])
				return nil

			case editMatch.Kind == history.MatchAmbiguous:
				entry, err := promptSelectEntry(editMatch.Entries, s.workspaceRoot)
				if err != nil {
					return err
				}
				printEntryDiff(s, *entry)
				return nil

			case convMatch.Kind == history.MatchUnique:
				return showConversation(s, convMatch.IDs[0])

			case convMatch.Kind == history.MatchAmbiguous:
				return &UsageError{Msg: fmt.Sprintf("identifier %q is ambiguous between conversations %v", identifier, convMatch.IDs)}

			default:
				return &UsageError{Msg: fmt.Sprintf("no edit or conversation matches %q", identifier)}
			}
		},
	}
	return cmd
}

func showConversation(s *session, conv history.ConversationID) error {
	entries, err := s.store.ReadLog(conv)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return &UsageError{Msg: fmt.Sprintf("no entries found for conversation %s", conv)}
	}
	for _, e := range entries {
		fmt.Printf("\n--- Edit: %s (op: %s, file: %s, status: %s) ---\n",
			e.EditID, e.Operation, e.FilePath, e.Status)
		printEntryDiff(s, e)
	}
	return nil
}

func printEntryDiff(s *session, e history.Entry) {
	fmt.Println(ColorizeDiff(loadDiffText(s, e)))
}

// loadDiffText returns the diff body for an entry. Moves and deletes have
// no diff file; a synthesized description is shown instead.
func loadDiffText(s *session, e history.Entry) string {
	if e.DiffFile != nil {
		data, err := s.store.ReadRel(*e.DiffFile)
		if err != nil {
			return fmt.Sprintf("(diff file unreadable: %v)", err)
		}
		return string(data)
	}
	switch e.Operation {
	case history.OpMove:
		src := ""
		if e.SourcePath != nil {
			src = *e.SourcePath
		}
		return fmt.Sprintf("OPERATION: MOVE\nSource: %s\nDestination: %s", src, e.FilePath)
	case history.OpDelete:
		return fmt.Sprintf("OPERATION: DELETE\nFile: %s", e.FilePath)
	default:
		return fmt.Sprintf("OPERATION: %s\n(no diff file associated)", e.Operation)
	}
}
