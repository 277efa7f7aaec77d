package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings of the terminal dashboard.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Filter  key.Binding
	Search  key.Binding
	Open    key.Binding
	Start   key.Binding
	Close   key.Binding
	Delete  key.Binding
	Confirm key.Binding
	Cancel  key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap uses vim-style movement alongside the arrow keys.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	Filter: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "filter"),
	),
	Search: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "search"),
	),
	Open: key.NewBinding(
		key.WithKeys("o"),
		key.WithHelp("o", "open"),
	),
	Start: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "in progress"),
	),
	Close: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "close"),
	),
	Delete: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "delete"),
	),
	Confirm: key.NewBinding(
		key.WithKeys("y"),
		key.WithHelp("y", "confirm"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("n", "esc"),
		key.WithHelp("n", "cancel"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Down, k.Up, k.Filter, k.Search, k.Open, k.Start, k.Close, k.Delete, k.Refresh, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Filter, k.Search, k.Refresh},
		{k.Open, k.Start, k.Close, k.Delete},
		{k.Quit},
	}
}
