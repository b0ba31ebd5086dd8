// Package review implements the interactive review session of the
// reviewer CLI: a Bubble Tea loop over pending edits, oldest first, with
// accept / reject / skip / quit decisions applied through the replay
// engine as they are made.
package review

import (
	"fmt"
	"strings"

	"github.com/0kenx/mcp-servers/internal/history"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Applier flips one edit's status and re-materializes the affected files.
// It is the seam between the review UI and the replay engine.
type Applier func(entry history.Entry, status history.Status) error

// DiffLoader renders the (already colourised) diff text for an entry.
type DiffLoader func(entry history.Entry) string

// decisionMsg reports the result of applying a decision to one edit.
type decisionMsg struct {
	index  int
	status history.Status
	err    error
}

// Model is the Bubble Tea model for the review session.
type Model struct {
	entries []history.Entry
	diffs   DiffLoader
	apply   Applier

	index    int
	viewport viewport.Model
	ready    bool

	Accepted int
	Rejected int
	Skipped  int
	lastErr  error
	applying bool
	done     bool
}

// NewModel builds a review session over pending entries (oldest first).
func NewModel(entries []history.Entry, diffs DiffLoader, apply Applier) *Model {
	return &Model{
		entries: entries,
		diffs:   diffs,
		apply:   apply,
	}
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 3
		footerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
			m.setContent()
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		return m, nil

	case tea.KeyMsg:
		if m.applying {
			return m, nil
		}
		switch msg.String() {
		case "a":
			return m.decide(history.StatusAccepted)
		case "r":
			return m.decide(history.StatusRejected)
		case "s":
			m.Skipped++
			return m.advance()
		case "q", "ctrl+c", "esc":
			m.done = true
			return m, tea.Quit
		}

	case decisionMsg:
		m.applying = false
		if msg.err != nil {
			// Errors surface per edit without ending the session.
			m.lastErr = msg.err
			return m.advance()
		}
		m.lastErr = nil
		switch msg.status {
		case history.StatusAccepted:
			m.Accepted++
		case history.StatusRejected:
			m.Rejected++
		}
		return m.advance()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) decide(status history.Status) (tea.Model, tea.Cmd) {
	if m.index >= len(m.entries) {
		return m, tea.Quit
	}
	entry := m.entries[m.index]
	m.applying = true
	return m, func() tea.Msg {
		err := m.apply(entry, status)
		return decisionMsg{index: m.index, status: status, err: err}
	}
}

func (m *Model) advance() (tea.Model, tea.Cmd) {
	m.index++
	if m.index >= len(m.entries) {
		m.done = true
		return m, tea.Quit
	}
	m.setContent()
	return m, nil
}

func (m *Model) setContent() {
	if !m.ready || m.index >= len(m.entries) {
		return
	}
	m.viewport.SetContent(m.diffs(m.entries[m.index]))
	m.viewport.GotoTop()
}

func (m *Model) View() string {
	if m.done || m.index >= len(m.entries) {
		return ""
	}
	entry := m.entries[m.index]

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Reviewing edit %d/%d", m.index+1, len(m.entries))))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s  %s  %s\n",
		string(entry.EditID)[:8], entry.Operation, entry.FilePath))
	if m.lastErr != nil {
		b.WriteString(ErrorStyle.Render("error: "+m.lastErr.Error()) + "\n")
	} else {
		b.WriteString("\n")
	}

	if m.ready {
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render("[a]ccept  [r]eject  [s]kip  [q]uit  (arrows scroll)"))
	return b.String()
}

// Summary renders the end-of-session counts.
func (m *Model) Summary() string {
	return fmt.Sprintf("Review finished: %d accepted, %d rejected, %d skipped.",
		m.Accepted, m.Rejected, m.Skipped)
}
