package tabs

import (
	"context"

	"github.com/desertthunder/mesakiosk/internal/navigation"
)

// listener returns the event handler wired to a tab's surface.
//
// Handlers only ever patch the tab they were created for, and become no-ops once it is closed.
func (m *Manager) listener(id string) Listener {
	return func(ev *Event) {
		switch ev.Kind {
		case NavigationStarted:
			m.patch(id, func(t *Tab) bool {
				changed := !t.IsLoading
				t.IsLoading = true
				return changed
			})
		case NavigationSettled:
			m.patch(id, func(t *Tab) bool {
				changed := t.IsLoading
				t.IsLoading = false
				return changed
			})
			m.reconcileAsync(id, ev.Title, ev.URL)
		case Navigated:
			m.reconcileAsync(id, ev.Title, ev.URL)
		case TitleUpdated:
			m.onTitle(id, ev.Title)
		case WillNavigate, PopupRequested:
			m.enforce(id, ev)
		}
	}
}

func (m *Manager) reconcileAsync(id, title, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), surfaceTimeout)
	defer cancel()
	m.reconcile(ctx, id, title, url)
}

// reconcile reads the surface getters, falls back to the event payload, and patches accepted values.
func (m *Manager) reconcile(ctx context.Context, id, fallbackTitle, fallbackURL string) {
	s := m.surface(id)
	if s == nil {
		return
	}

	title, err := s.Title(ctx)
	if err != nil {
		m.logger.Debug("title read failed", "tab", id, "error", err)
	}
	if !acceptTitle(title) {
		title = fallbackTitle
	}

	url, err := s.URL(ctx)
	if err != nil {
		m.logger.Debug("url read failed", "tab", id, "error", err)
	}
	if !acceptURL(url) {
		url = fallbackURL
	}

	m.patch(id, func(t *Tab) bool {
		changed := false
		if acceptTitle(title) && t.Title != title {
			t.Title = title
			changed = true
		}
		if acceptURL(url) && t.URL != url {
			t.URL = url
			t.InputURL = url
			changed = true
		}
		return changed
	})
}

// onTitle prefers the payload title, then the surface getter, then the loading sentinel.
func (m *Manager) onTitle(id, title string) {
	if title == "" {
		if s := m.surface(id); s != nil {
			ctx, cancel := context.WithTimeout(context.Background(), surfaceTimeout)
			title, _ = s.Title(ctx)
			cancel()
		}
	}
	if title == "" {
		title = LoadingTitle
	}

	m.patch(id, func(t *Tab) bool {
		if t.Title == title {
			return false
		}
		t.Title = title
		return true
	})
}

// enforce applies the navigation policy to an outbound navigation.
func (m *Manager) enforce(id string, ev *Event) {
	tab, ok := m.Tab(id)
	if !ok {
		return
	}

	d := navigation.Decide(ev.URL, tab.URL, m.allow)
	switch d.Action {
	case navigation.Redirect:
		ev.Prevent()
		m.opener.Open(ev.URL)
	case navigation.Block:
		ev.Prevent()
	}
	m.logger.Debug("navigation policy", "tab", id, "event", ev.Kind, "target", ev.URL, "decision", d)
}
