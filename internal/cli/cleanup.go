package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCleanupCommand removes stale locks from the history store.
func NewCleanupCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cleanup",
		Aliases: []string{"clean"},
		Short:   "Remove stale locks in the history store",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts)
			if err != nil {
				return err
			}
			removed, err := s.engine.Cleanup(opts.ForceCleanup)
			if err != nil {
				return err
			}
			if removed == 0 {
				fmt.Println("No stale locks found.")
			} else {
				fmt.Printf("Removed %d stale lock(s).\n", removed)
			}
			return nil
		},
	}
	return cmd
}
