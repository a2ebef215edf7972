package tabs

import (
	"net/url"
	"strings"
	"sync"
)

// Icon is the glyph drawn next to a tab title.
type Icon struct {
	Name  string
	Glyph string
}

var defaultIcon = Icon{Name: "Web", Glyph: "◎"}

var siteIcons = map[string]Icon{
	"mesaconnect.io":   {Name: "MESA", Glyph: "◆"},
	"google.com":       {Name: "Google", Glyph: "G"},
	"docs.google.com":  {Name: "Docs", Glyph: "≡"},
	"drive.google.com": {Name: "Drive", Glyph: "△"},
	"github.com":       {Name: "GitHub", Glyph: "⌥"},
	"youtube.com":      {Name: "YouTube", Glyph: "▶"},
	"twitter.com":      {Name: "Twitter", Glyph: "t"},
	"x.com":            {Name: "X", Glyph: "X"},
	"spotify.com":      {Name: "Spotify", Glyph: "♫"},
	"open.spotify.com": {Name: "Spotify", Glyph: "♫"},
	"discord.com":      {Name: "Discord", Glyph: "◉"},
	"facebook.com":     {Name: "Facebook", Glyph: "f"},
	"instagram.com":    {Name: "Instagram", Glyph: "◘"},
	"linkedin.com":     {Name: "LinkedIn", Glyph: "in"},
	"notion.so":        {Name: "Notion", Glyph: "N"},
}

// Shortcut is a dashboard entry shown on the new tab page.
type Shortcut struct {
	Name string
	URL  string
}

// Dashboard lists the new tab page shortcuts in display order.
var Dashboard = []Shortcut{
	{Name: "MESA Connect", URL: "https://mesaconnect.io"},
	{Name: "Google", URL: "https://google.com"},
	{Name: "Google Docs", URL: "https://docs.google.com"},
	{Name: "Google Drive", URL: "https://drive.google.com"},
	{Name: "GitHub", URL: "https://github.com"},
	{Name: "YouTube", URL: "https://youtube.com"},
	{Name: "Spotify", URL: "https://open.spotify.com"},
	{Name: "Notion", URL: "https://notion.so"},
	{Name: "Discord", URL: "https://discord.com"},
}

// resolveIcon matches the URL's host, without "www.", against siteIcons, trying parent domains last.
func resolveIcon(rawURL string) Icon {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultIcon
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for host != "" {
		if icon, ok := siteIcons[host]; ok {
			return icon
		}
		_, parent, found := strings.Cut(host, ".")
		if !found {
			break
		}
		host = parent
	}
	return defaultIcon
}

// IconCache memoises icon lookups by URL. When full it is cleared rather than evicting entries one by one.
type IconCache struct {
	mu       sync.Mutex
	entries  map[string]Icon
	capacity int
}

func NewIconCache(capacity int) *IconCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &IconCache{entries: make(map[string]Icon, capacity), capacity: capacity}
}

// Lookup returns the icon for rawURL.
func (c *IconCache) Lookup(rawURL string) Icon {
	c.mu.Lock()
	defer c.mu.Unlock()

	if icon, ok := c.entries[rawURL]; ok {
		return icon
	}
	if len(c.entries) >= c.capacity {
		clear(c.entries)
	}
	icon := resolveIcon(rawURL)
	c.entries[rawURL] = icon
	return icon
}

// Len reports the number of memoised entries.
func (c *IconCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
