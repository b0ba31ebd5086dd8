package cli

import (
	"fmt"
	"sort"

	"github.com/0kenx/mcp-servers/internal/history"
	"github.com/0kenx/mcp-servers/internal/review"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// NewReviewCommand starts the interactive review loop over pending edits,
// oldest first.
func NewReviewCommand(opts *RootOptions) *cobra.Command {
	var convPrefix string

	cmd := &cobra.Command{
		Use:     "review",
		Aliases: []string{"v"},
		Short:   "Interactively accept or reject pending edits",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts)
			if err != nil {
				return err
			}

			entries, err := s.store.ReadAll()
			if err != nil {
				return err
			}

			if convPrefix != "" {
				match := history.ResolveConversation(entries, convPrefix)
				switch match.Kind {
				case history.MatchUnique:
					filtered := entries[:0]
					for _, e := range entries {
						if e.ConversationID == match.IDs[0] {
							filtered = append(filtered, e)
						}
					}
					entries = filtered
				case history.MatchAmbiguous:
					return &UsageError{Msg: fmt.Sprintf("conversation prefix %q is ambiguous: %v", convPrefix, match.IDs)}
				default:
					return &UsageError{Msg: fmt.Sprintf("no conversation matches %q", convPrefix)}
				}
			}

			var pending []history.Entry
			for _, e := range entries {
				if e.Status == history.StatusPending {
					pending = append(pending, e)
				}
			}
			// Oldest first: decisions build on each other within a file.
			sort.SliceStable(pending, func(i, j int) bool {
				ti, tj := pending[i].Timestamp.Time(), pending[j].Timestamp.Time()
				if !ti.Equal(tj) {
					return ti.Before(tj)
				}
				return pending[i].ToolCallIndex < pending[j].ToolCallIndex
			})

			if len(pending) == 0 {
				fmt.Println("No pending edits to review.")
				return nil
			}

			model := review.NewModel(pending,
				func(e history.Entry) string { return ColorizeDiff(loadDiffText(s, e)) },
				func(e history.Entry, st history.Status) error {
					_, err := s.engine.ApplyToEdit(e, st)
					return err
				},
			)

			program := tea.NewProgram(model)
			final, err := program.Run()
			if err != nil {
				return fmt.Errorf("review session failed: %w", err)
			}
			fmt.Println(final.(*review.Model).Summary())
			return nil
		},
	}

	cmd.Flags().StringVarP(&convPrefix, "conv", "c", "", "limit the review to one conversation")
	return cmd
}
