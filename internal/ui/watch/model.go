package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailwatch/internal/keys"
	"github.com/nhle/mailwatch/internal/source"
	appsync "github.com/nhle/mailwatch/internal/sync"
	"github.com/nhle/mailwatch/internal/theme"
)

// linesPerMessage is the rendered height of one list entry.
const linesPerMessage = 4

// Model lists the most recent messages of the watched mailbox.
type Model struct {
	keys    *keys.KeyMap
	account string

	// messages are newest first.
	messages []source.Header
	selected int
	loaded   bool
	loadErr  error

	status appsync.Status
	action string

	width, height int
}

// New creates the watch screen for account.
func New(k *keys.KeyMap, account string, width, height int) Model {
	return Model{
		keys:    k,
		account: account,
		width:   width,
		height:  height,
	}
}

// Account returns the watched account.
func (m Model) Account() string {
	return m.account
}

// SetSize updates the screen dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// SetMessages replaces the list with headers given oldest first. A failed
// reload keeps the previous list.
func (m *Model) SetMessages(headers []source.Header, err error) {
	m.loaded = true
	m.loadErr = err
	if err != nil {
		return
	}

	m.messages = make([]source.Header, 0, len(headers))
	for i := len(headers) - 1; i >= 0; i-- {
		m.messages = append(m.messages, headers[i])
	}
	if m.selected >= len(m.messages) {
		m.selected = max(len(m.messages)-1, 0)
	}
}

// Messages returns the displayed headers, newest first.
func (m Model) Messages() []source.Header {
	return m.messages
}

// SetStatus records the monitor snapshot shown in the summary line.
func (m *Model) SetStatus(s appsync.Status) {
	m.status = s
}

// SetAction shows a transient action result such as "Alarm stopped".
func (m *Model) SetAction(text string) {
	m.action = text
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles list navigation.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, m.keys.Down):
		if m.selected < len(m.messages)-1 {
			m.selected++
		}
	case key.Matches(keyMsg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	}
	return m, nil
}

// StatusLine summarizes the monitor for the header bar.
func (m Model) StatusLine() string {
	state := m.status.State.String()
	if m.status.LastError != nil && m.status.State == appsync.StateRunning {
		state = "error"
	}

	parts := []string{theme.StateStyle(state).Render(state)}
	if !m.status.LastCheck.IsZero() {
		parts = append(parts, "checked "+m.status.LastCheck.Format(time.TimeOnly))
	}
	if m.status.Notified > 0 {
		parts = append(parts, fmt.Sprintf("%d new", m.status.Notified))
	}
	return strings.Join(parts, " ")
}

// View renders the summary line and the message list.
func (m Model) View() string {
	var b strings.Builder

	summary := m.action
	if m.status.LastError != nil {
		summary = theme.ErrorStyle.Render(errorText(m.status.LastError))
	}
	b.WriteString(summary)
	b.WriteString("\n\n")

	switch {
	case !m.loaded:
		b.WriteString(theme.HelpStyle.Render("Loading emails..."))
	case m.loadErr != nil && len(m.messages) == 0:
		b.WriteString(theme.ErrorStyle.Render("Could not load emails: " + errorText(m.loadErr)))
	case len(m.messages) == 0:
		b.WriteString(theme.HelpStyle.Render("No emails yet."))
	default:
		b.WriteString(m.renderList())
	}

	return lipgloss.NewStyle().
		Width(m.width).
		Height(max(m.height, 0)).
		MaxHeight(max(m.height, 0)).
		Render(b.String())
}

// renderList shows the window of messages that keeps the selection
// visible.
func (m Model) renderList() string {
	visible := max((m.height-2)/linesPerMessage, 1)
	start := 0
	if m.selected >= visible {
		start = m.selected - visible + 1
	}
	end := min(start+visible, len(m.messages))

	rows := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		rows = append(rows, m.renderMessage(m.messages[i], i == m.selected))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderMessage(h source.Header, selected bool) string {
	lines := []string{
		theme.LabelStyle.Render("From:    ") + h.From,
		theme.LabelStyle.Render("Subject: ") + h.Subject,
		theme.LabelStyle.Render("Date:    ") + h.Date,
	}
	style := theme.MessageStyle
	if selected {
		style = theme.SelectedMessageStyle
	}
	return style.Render(strings.Join(lines, "\n"))
}

// errorText prefers the user-facing message of an authentication error.
func errorText(err error) string {
	if source.IsAuthError(err) {
		return "Authentication failed. Log out and sign in again."
	}
	return err.Error()
}
