package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	newTab   key.Binding
	closeTab key.Binding
	nextTab  key.Binding
	prevTab  key.Binding
	address  key.Binding
	enter    key.Binding
	cancel   key.Binding
	back     key.Binding
	forward  key.Binding
	reload   key.Binding
	play     key.Binding
	next     key.Binding
	previous key.Binding
	timer    key.Binding
	reset    key.Binding
	extend   key.Binding
	help     key.Binding
	quit     key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		newTab:   key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "new tab")),
		closeTab: key.NewBinding(key.WithKeys("ctrl+w"), key.WithHelp("ctrl+w", "close tab")),
		nextTab:  key.NewBinding(key.WithKeys("tab", "ctrl+pgdown"), key.WithHelp("tab", "next tab")),
		prevTab:  key.NewBinding(key.WithKeys("shift+tab", "ctrl+pgup"), key.WithHelp("shift+tab", "prev tab")),
		address:  key.NewBinding(key.WithKeys("ctrl+l", "/"), key.WithHelp("/", "address")),
		enter:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		cancel:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		back:     key.NewBinding(key.WithKeys("alt+left", "h"), key.WithHelp("h", "back")),
		forward:  key.NewBinding(key.WithKeys("alt+right", "l"), key.WithHelp("l", "forward")),
		reload:   key.NewBinding(key.WithKeys("ctrl+r", "r"), key.WithHelp("r", "reload")),
		play:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		next:     key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next track")),
		previous: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "prev track")),
		timer:    key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "focus timer")),
		reset:    key.NewBinding(key.WithKeys("F"), key.WithHelp("F", "reset timer")),
		extend:   key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "extend 1h")),
		help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.address, k.newTab, k.nextTab, k.help, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.newTab, k.closeTab, k.nextTab, k.prevTab},
		{k.address, k.back, k.forward, k.reload},
		{k.play, k.next, k.previous},
		{k.timer, k.reset, k.extend, k.quit},
	}
}
