package cli

import (
	"fmt"

	"github.com/0kenx/mcp-servers/internal/history"

	"github.com/spf13/cobra"
)

// NewStatusCommand lists history entries, newest first.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	var (
		conv       string
		file       string
		status     string
		op         string
		timeFilter string
		limit      int
	)

	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Show edit history status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts)
			if err != nil {
				return err
			}

			filter := history.Filter{
				Conversation: conv,
				File:         file,
				Limit:        limit,
			}
			if status != "" {
				st := history.Status(status)
				if !st.Valid() {
					return &UsageError{Msg: fmt.Sprintf("invalid status %q (pending|accepted|rejected)", status)}
				}
				filter.Status = st
			}
			if op != "" {
				o := history.Operation(op)
				if !o.Valid() {
					return &UsageError{Msg: fmt.Sprintf("invalid operation %q", op)}
				}
				filter.Operation = o
			}
			if timeFilter != "" {
				age, err := parseTimeFilter(timeFilter)
				if err != nil {
					return &UsageError{Msg: err.Error()}
				}
				filter.MaxAge = age
			}

			entries, err := s.store.ReadAll()
			if err != nil {
				return err
			}
			matched := filter.Apply(entries)
			if len(matched) == 0 {
				fmt.Println("No matching history entries found.")
				return nil
			}

			PrintEntryHeader()
			for _, e := range matched {
				fmt.Println(FormatEntryLine(e, s.workspaceRoot, opts.Verbose))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&conv, "conv", "", "filter by conversation ID prefix or suffix")
	cmd.Flags().StringVar(&file, "file", "", "filter by file path substring")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|accepted|rejected)")
	cmd.Flags().StringVar(&op, "op", "", "filter by operation (create|replace|edit|delete|move)")
	cmd.Flags().StringVar(&timeFilter, "time", "", "filter by age, e.g. 30s, 5m, 1h30m, 2d")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "limit entries shown (0 = no limit)")

	return cmd
}
