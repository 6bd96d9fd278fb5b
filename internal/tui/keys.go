package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the download view bindings
type KeyMap struct {
	Pause  key.Binding
	Cancel key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Pause: key.NewBinding(
			key.WithKeys("p", " "),
			key.WithHelp("p", "pause/resume"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("c", "q", "ctrl+c"),
			key.WithHelp("c", "cancel"),
		),
	}
}

// ShortHelp lists the bindings shown in the footer while running
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Cancel}
}
