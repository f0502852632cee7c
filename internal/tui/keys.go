package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines global keybindings.
type KeyMap struct {
	SwitchPanel key.Binding
	Quit        key.Binding
	Submit      key.Binding
	Abort       key.Binding
	Approve     key.Binding
	AlwaysAllow key.Binding
	Deny        key.Binding
	ScrollUp    key.Binding
	ScrollDown  key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		SwitchPanel: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "switch panel"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Abort: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "interrupt"),
		),
		Approve: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "allow once"),
		),
		AlwaysAllow: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "always allow"),
		),
		Deny: key.NewBinding(
			key.WithKeys("n", "esc"),
			key.WithHelp("n", "deny"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		ScrollDown: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
	}
}
