package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/mesakiosk/internal/tabs"
)

var _ list.Item = shortcutItem{}

// shortcutItem wraps a dashboard [tabs.Shortcut] to implement [list.Item].
type shortcutItem struct {
	shortcut tabs.Shortcut
	icon     tabs.Icon
}

func (i shortcutItem) FilterValue() string { return i.shortcut.Name }
func (i shortcutItem) Title() string       { return fmt.Sprintf("%s  %s", i.icon.Glyph, i.shortcut.Name) }
func (i shortcutItem) Description() string { return i.shortcut.URL }

func dashboardItems(icon func(string) tabs.Icon) []list.Item {
	items := make([]list.Item, len(tabs.Dashboard))
	for i, s := range tabs.Dashboard {
		items[i] = shortcutItem{shortcut: s, icon: icon(s.URL)}
	}
	return items
}

func newDashboard(icon func(string) tabs.Icon) list.Model {
	l := list.New(dashboardItems(icon), list.NewDefaultDelegate(), 0, 0)
	l.Title = "Websites"
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	return l
}
