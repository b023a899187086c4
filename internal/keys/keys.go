// Package keys defines the keybindings for calmirror's terminal views.
package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings for the mappings browser.
type KeyMap struct {
	Filter  key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reload"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns the keybindings shown in the hint line, in display order.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Filter, k.Refresh, k.Quit}
}
