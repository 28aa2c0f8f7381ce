package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailwatch/internal/keys"
	"github.com/nhle/mailwatch/internal/theme"
)

// Model is the help overlay: key bindings plus the active settings.
type Model struct {
	keys     *keys.KeyMap
	help     help.Model
	settings []string
	width    int
	height   int
}

// New creates a new help view model. settings are shown verbatim below
// the key bindings.
func New(keys *keys.KeyMap, settings []string, width, height int) Model {
	h := help.New()
	h.Width = width
	h.ShowAll = true
	return Model{
		keys:     keys,
		help:     h,
		settings: settings,
		width:    width,
		height:   height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{
		titleStyle.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
	}
	if len(m.settings) > 0 {
		parts = append(parts,
			"",
			titleStyle.Render("Settings"),
			theme.HelpStyle.Render(strings.Join(m.settings, "\n")),
		)
	}

	return theme.PanelStyle.
		Width(max(m.width-4, 0)).
		Height(max(m.height-4, 0)).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
