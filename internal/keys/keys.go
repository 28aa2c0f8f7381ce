package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the watch screen.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Mailbox
	Refresh key.Binding

	// Alert
	StopAlert key.Binding

	// Session
	Logout key.Binding
	Quit   key.Binding

	// Help toggle
	Help key.Binding
	Back key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "check now"),
		),
		StopAlert: key.NewBinding(
			key.WithKeys("s", "S"),
			key.WithHelp("s", "stop alarm"),
		),
		Logout: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "log out"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Refresh, k.StopAlert, k.Logout, k.Quit, k.Help,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Refresh},
		{k.StopAlert, k.Logout, k.Quit},
		{k.Help, k.Back},
	}
}
