// Package cli implements the mcpdiff reviewer command surface: status,
// show, accept, reject, review, and cleanup over a workspace's edit
// history store.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/0kenx/mcp-servers/internal/config"
	"github.com/0kenx/mcp-servers/internal/history"
	"github.com/0kenx/mcp-servers/internal/logging"
	"github.com/0kenx/mcp-servers/internal/replay"
	"github.com/0kenx/mcp-servers/internal/workspace"

	"github.com/spf13/cobra"
)

// RootOptions holds the global flags shared by all commands.
type RootOptions struct {
	Workspace      string
	Verbose        bool
	TimeoutSeconds int
	ForceCleanup   bool
}

// NewRootCommand creates the root command for the mcpdiff CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "mcpdiff",
		Short:         "Review and manage LM file edits",
		Long:          "mcpdiff inspects the edit history recorded by the filesystem server,\nshows diffs, and accepts or rejects individual edits by reconstructing\nthe file state each choice implies.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.Verbose {
				logging.GetDefault().SetVerbose()
			}
		},
	}

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &UsageError{Msg: err.Error()}
	})

	cmd.PersistentFlags().StringVarP(&opts.Workspace, "workspace", "w", "", "workspace root (default: search upward from CWD)")
	cmd.PersistentFlags().BoolVar(&opts.Verbose, "verbose", false, "verbose output")
	cmd.PersistentFlags().IntVar(&opts.TimeoutSeconds, "timeout", 0, "lock acquisition timeout in seconds")
	cmd.PersistentFlags().BoolVar(&opts.ForceCleanup, "force-cleanup", false, "cleanup removes all locks, not only stale ones")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewAcceptCommand(opts))
	cmd.AddCommand(NewRejectCommand(opts))
	cmd.AddCommand(NewReviewCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))

	return cmd
}

// session bundles the store and engine for one command invocation.
type session struct {
	opts          *RootOptions
	workspaceRoot string
	store         *history.Store
	engine        *replay.Engine
	logger        *logging.AppLogger
}

// newSession locates the workspace (flag, or upward search from the
// current directory) and opens its history store.
func newSession(opts *RootOptions) (*session, error) {
	logger := logging.GetDefault()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	root := opts.Workspace
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("cannot determine working directory: %w", err)
		}
		root, err = workspace.FindRoot(cwd)
		if err != nil {
			return nil, err
		}
	}

	timeout := cfg.LockTimeout()
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}

	store, err := history.Open(root, timeout, cfg.LogWarnBytes, logger)
	if err != nil {
		return nil, err
	}

	s := &session{
		opts:          opts,
		workspaceRoot: root,
		store:         store,
		logger:        logger,
	}
	s.engine = replay.New(store, timeout, s.confirmExternal, logger)
	return s, nil
}

// confirmExternal shows the detected out-of-band change and asks the
// reviewer whether it may be discarded.
func (s *session) confirmExternal(change replay.ExternalChange) (bool, error) {
	fmt.Fprintf(os.Stderr, "Warning: %s was modified outside the recorded history.\n", change.Path)
	fmt.Fprintf(os.Stderr, "(expected hash: %s, current hash: %s)\n",
		hashLabel(change.ExpectedHash), hashLabel(change.ActualHash))
	if change.Diff != "" {
		fmt.Fprintln(os.Stderr, "Difference between last recorded state and current state:")
		fmt.Fprintln(os.Stderr, ColorizeDiff(change.Diff))
	}
	return promptYesNo("Proceed and discard these external changes?")
}

func hashLabel(h *string) string {
	if h == nil {
		return "file absent"
	}
	return *h
}

// resolveTarget resolves the -e / -c selection flags against the store.
// Exactly one of editPrefix and convPrefix must be set; ambiguity among
// edit matches is settled interactively.
func (s *session) resolveTarget(editPrefix, convPrefix string) (*history.Entry, history.ConversationID, error) {
	if (editPrefix == "") == (convPrefix == "") {
		return nil, "", &UsageError{Msg: "specify exactly one of -e EDIT or -c CONV"}
	}

	entries, err := s.store.ReadAll()
	if err != nil {
		return nil, "", err
	}

	if editPrefix != "" {
		match := history.ResolveEdit(entries, editPrefix)
		switch match.Kind {
		case history.MatchUnique:
			return &match.Entries[0], "", nil
		case history.MatchAmbiguous:
			entry, err := promptSelectEntry(match.Entries, s.workspaceRoot)
			if err != nil {
				return nil, "", err
			}
			return entry, "", nil
		default:
			return nil, "", &UsageError{Msg: fmt.Sprintf("no edit matches %q", editPrefix)}
		}
	}

	match := history.ResolveConversation(entries, convPrefix)
	switch match.Kind {
	case history.MatchUnique:
		return nil, match.IDs[0], nil
	case history.MatchAmbiguous:
		return nil, "", &UsageError{Msg: fmt.Sprintf("conversation prefix %q is ambiguous: %v", convPrefix, match.IDs)}
	default:
		return nil, "", &UsageError{Msg: fmt.Sprintf("no conversation matches %q", convPrefix)}
	}
}
