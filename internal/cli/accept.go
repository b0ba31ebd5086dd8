package cli

import (
	"fmt"

	"github.com/0kenx/mcp-servers/internal/history"
	"github.com/0kenx/mcp-servers/internal/replay"

	"github.com/spf13/cobra"
)

// NewAcceptCommand flips edits to accepted and re-materializes the
// affected files.
func NewAcceptCommand(opts *RootOptions) *cobra.Command {
	return newStatusChangeCommand(opts, statusChangeSpec{
		use:     "accept",
		aliases: []string{"a"},
		short:   "Mark edits as accepted and re-materialize files",
		status:  history.StatusAccepted,
	})
}

// NewRejectCommand flips edits to rejected and re-materializes the
// affected files.
func NewRejectCommand(opts *RootOptions) *cobra.Command {
	return newStatusChangeCommand(opts, statusChangeSpec{
		use:     "reject",
		aliases: []string{"r"},
		short:   "Mark edits as rejected and revert their effects",
		status:  history.StatusRejected,
	})
}

type statusChangeSpec struct {
	use     string
	aliases []string
	short   string
	status  history.Status
}

func newStatusChangeCommand(opts *RootOptions, spec statusChangeSpec) *cobra.Command {
	var (
		editPrefix string
		convPrefix string
	)

	cmd := &cobra.Command{
		Use:     spec.use,
		Aliases: spec.aliases,
		Short:   spec.short,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts)
			if err != nil {
				return err
			}

			entry, conv, err := s.resolveTarget(editPrefix, convPrefix)
			if err != nil {
				return err
			}

			var outcome *replay.Outcome
			if entry != nil {
				outcome, err = s.engine.ApplyToEdit(*entry, spec.status)
			} else {
				outcome, err = s.engine.ApplyToConversation(conv, spec.status)
			}
			if err != nil {
				return err
			}

			printOutcome(outcome, spec.status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&editPrefix, "edit", "e", "", "edit ID (prefix) to re-classify")
	cmd.Flags().StringVarP(&convPrefix, "conv", "c", "", "conversation ID (prefix) to re-classify")

	return cmd
}

func printOutcome(outcome *replay.Outcome, status history.Status) {
	if outcome.Flipped == 0 {
		fmt.Println("No status changes were needed.")
		return
	}
	fmt.Printf("Marked %d edit(s) as %s in conversation %s.\n",
		outcome.Flipped, status, outcome.Conversation)
	for _, f := range outcome.Files {
		fmt.Printf("  re-materialized %s\n", f)
	}
}
