package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/0kenx/mcp-servers/internal/history"
	"github.com/0kenx/mcp-servers/internal/review"

	"github.com/muesli/reflow/truncate"
	"github.com/muesli/termenv"
)

// colorEnabled reports whether diff colouring should be used: only on a
// terminal with a colour profile.
func colorEnabled() bool {
	return termenv.EnvColorProfile() != termenv.Ascii
}

// ColorizeDiff applies the standard diff colouring to unified diff text.
// On a dumb terminal the input is returned unchanged.
func ColorizeDiff(diff string) string {
	if !colorEnabled() || diff == "" {
		return diff
	}
	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			lines[i] = review.DiffHeaderStyle.Render(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = review.DiffHunkStyle.Render(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = review.DiffAddStyle.Render(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = review.DiffDelStyle.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func statusStyled(st history.Status) string {
	padded := fmt.Sprintf("%-8s", st)
	if !colorEnabled() {
		return padded
	}
	switch st {
	case history.StatusPending:
		return review.PendingStyle.Render(padded)
	case history.StatusAccepted:
		return review.AcceptedStyle.Render(padded)
	case history.StatusRejected:
		return review.RejectedStyle.Render(padded)
	}
	return padded
}

const entryPathWidth = 60

// FormatEntryLine renders one entry row for listings. Paths are shown
// workspace-relative and truncated with an ellipsis tail to keep rows
// scannable.
func FormatEntryLine(e history.Entry, workspaceRoot string, verbose bool) string {
	ts := e.Timestamp.Time().Format("2006-01-02 15:04:05")
	if verbose {
		ts = fmt.Sprintf("%s (%s)", ts, relativeTime(e.Timestamp.Time()))
	}

	path := e.FilePath
	if rel, err := filepath.Rel(workspaceRoot, e.FilePath); err == nil && !strings.HasPrefix(rel, "..") {
		path = rel
	}
	if e.Operation == history.OpMove && e.SourcePath != nil {
		src := *e.SourcePath
		if rel, err := filepath.Rel(workspaceRoot, src); err == nil && !strings.HasPrefix(rel, "..") {
			src = rel
		}
		path = src + " -> " + path
	}
	path = truncate.StringWithTail(path, entryPathWidth, "…")

	return fmt.Sprintf("%-19s  %-8s  %-8s  %-8s  %s  %s",
		ts,
		shortID(string(e.EditID)),
		shortID(string(e.ConversationID)),
		e.Operation,
		statusStyled(e.Status),
		path)
}

// PrintEntryHeader prints the column header for entry listings.
func PrintEntryHeader() {
	fmt.Printf("%-19s  %-8s  %-8s  %-8s  %-8s  %s\n",
		"TIME", "EDIT", "CONV", "OP", "STATUS", "FILE")
	fmt.Println(strings.Repeat("-", 110))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// relativeTime renders an instant relative to now ("just now", "5m ago",
// "yesterday", or the date for older entries).
func relativeTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < 0:
		return t.Format("2006-01-02 15:04:05")
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 48*time.Hour:
		return "yesterday"
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// parseTimeFilter parses age expressions like "30s", "5m", "1h30m", or
// "2d1h" into seconds. time.ParseDuration has no day unit, so days are
// handled here.
func parseTimeFilter(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("empty time filter")
	}

	var total float64
	num := strings.Builder{}
	consumed := false
	for _, r := range expr {
		switch {
		case r >= '0' && r <= '9':
			num.WriteRune(r)
		case r == 's' || r == 'm' || r == 'h' || r == 'd':
			if num.Len() == 0 {
				return 0, fmt.Errorf("invalid time filter %q", expr)
			}
			var n int
			fmt.Sscanf(num.String(), "%d", &n)
			switch r {
			case 's':
				total += float64(n)
			case 'm':
				total += float64(n) * 60
			case 'h':
				total += float64(n) * 3600
			case 'd':
				total += float64(n) * 86400
			}
			num.Reset()
			consumed = true
		default:
			return 0, fmt.Errorf("invalid time filter %q: unknown unit %q", expr, string(r))
		}
	}
	if num.Len() > 0 || !consumed {
		return 0, fmt.Errorf("invalid time filter %q: trailing number without unit", expr)
	}
	return total, nil
}

// promptSelectEntry asks the user to pick one entry among ambiguous
// matches (newest shown first by the caller).
func promptSelectEntry(entries []history.Entry, workspaceRoot string) (*history.Entry, error) {
	fmt.Fprintf(os.Stderr, "Ambiguous identifier matches %d entries:\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(os.Stderr, "[%2d] %s\n", i+1, FormatEntryLine(e, workspaceRoot, false))
	}
	return promptIndex(entries)
}

func promptIndex(entries []history.Entry) (*history.Entry, error) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprintf(os.Stderr, "Enter number to select (1-%d) or 'q' to quit: ", len(entries))
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("selection aborted: %w", err)
		}
		line = strings.TrimSpace(strings.ToLower(line))
		if line == "q" || line == "quit" {
			return nil, fmt.Errorf("selection cancelled")
		}
		var idx int
		if _, err := fmt.Sscanf(line, "%d", &idx); err == nil && idx >= 1 && idx <= len(entries) {
			return &entries[idx-1], nil
		}
		fmt.Fprintln(os.Stderr, "Invalid selection.")
	}
}

// promptYesNo asks a yes/no question on the terminal.
func promptYesNo(question string) (bool, error) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprintf(os.Stderr, "%s (y/n): ", question)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, fmt.Errorf("confirmation aborted: %w", err)
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(os.Stderr, "Please answer 'y' or 'n'.")
	}
}
