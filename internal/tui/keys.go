package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

// keyMap holds the dashboard key bindings. It implements help.KeyMap.
type keyMap struct {
	Next     key.Binding
	Prev     key.Binding
	Up       key.Binding
	Down     key.Binding
	Pane1    key.Binding
	Pane2    key.Binding
	Pane3    key.Binding
	Settings key.Binding
	Close    key.Binding
	Quit     key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Next:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next pane")),
		Prev:     key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev pane")),
		Up:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		Pane1:    key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "microtasks")),
		Pane2:    key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "progress")),
		Pane3:    key.NewBinding(key.WithKeys("3"), key.WithHelp("3", "pools")),
		Settings: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "settings")),
		Close:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Down, k.Up, k.Settings, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Next, k.Prev, k.Pane1, k.Pane2, k.Pane3},
		{k.Up, k.Down},
		{k.Settings, k.Close, k.Quit},
	}
}
