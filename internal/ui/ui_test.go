package ui

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/mesakiosk/internal/models"
	"github.com/desertthunder/mesakiosk/internal/playback"
	"github.com/desertthunder/mesakiosk/internal/room"
	"github.com/desertthunder/mesakiosk/internal/tabs"
)

type fakeTabs struct {
	tabs   []tabs.Tab
	active string
	calls  []string
	ch     chan tabs.Change
}

func newFakeTabs(initial ...tabs.Tab) *fakeTabs {
	f := &fakeTabs{tabs: initial, ch: make(chan tabs.Change, 8)}
	if len(initial) > 0 {
		f.active = initial[0].ID
	}
	return f
}

func (f *fakeTabs) Tabs() []tabs.Tab             { return f.tabs }
func (f *fakeTabs) ActiveID() string             { return f.active }
func (f *fakeTabs) Icon(rawURL string) tabs.Icon { return tabs.Icon{Name: "Web", Glyph: "◎"} }
func (f *fakeTabs) Subscribe() (<-chan tabs.Change, func()) {
	return f.ch, func() {}
}

func (f *fakeTabs) Create(_ context.Context, rawURL string, asNewTabPage bool) tabs.Tab {
	f.calls = append(f.calls, "create:"+rawURL)
	t := tabs.Tab{ID: fmt.Sprintf("t%d", len(f.tabs)+1), IsNewTabPage: asNewTabPage || rawURL == "", Title: tabs.NewTabTitle}
	if !t.IsNewTabPage {
		t.URL, t.InputURL = rawURL, rawURL
	}
	f.tabs = append(f.tabs, t)
	f.active = t.ID
	return t
}

func (f *fakeTabs) Close(id string) error {
	f.calls = append(f.calls, "close:"+id)
	return nil
}

func (f *fakeTabs) SwitchBy(offset int) { f.calls = append(f.calls, fmt.Sprintf("switch:%d", offset)) }

func (f *fakeTabs) SetInput(id, text string) {
	for i := range f.tabs {
		if f.tabs[i].ID == id {
			f.tabs[i].InputURL = text
		}
	}
}

func (f *fakeTabs) Navigate(_ context.Context, id, raw string) error {
	f.calls = append(f.calls, "navigate:"+id+":"+raw)
	return nil
}

func (f *fakeTabs) GoBack(context.Context)    { f.calls = append(f.calls, "back") }
func (f *fakeTabs) GoForward(context.Context) { f.calls = append(f.calls, "forward") }
func (f *fakeTabs) Reload(context.Context)    { f.calls = append(f.calls, "reload") }

type fakeRoom struct {
	state    room.State
	password string
	calls    []string
}

func (f *fakeRoom) State() room.State { return f.state }
func (f *fakeRoom) Subscribe() (<-chan room.State, func()) {
	return make(chan room.State), func() {}
}

func (f *fakeRoom) Authenticate(password string) bool {
	if password != f.password {
		return false
	}
	f.state.IsAuthenticated = true
	return true
}

func (f *fakeRoom) ExtendExpiration(_ context.Context, hours int) error {
	f.calls = append(f.calls, fmt.Sprintf("extend:%d", hours))
	return nil
}

func (f *fakeRoom) StartPomodoro() error {
	f.calls = append(f.calls, "start")
	f.state.Pomodoro = f.state.Pomodoro.Start()
	return nil
}

func (f *fakeRoom) PausePomodoro() { f.calls = append(f.calls, "pause") }
func (f *fakeRoom) ResetPomodoro() { f.calls = append(f.calls, "reset") }

type fakePlayer struct {
	state playback.State
	calls []string
}

func (f *fakePlayer) State() playback.State { return f.state }
func (f *fakePlayer) Subscribe() (<-chan playback.State, func()) {
	return make(chan playback.State), func() {}
}

func (f *fakePlayer) Toggle(context.Context) error {
	f.calls = append(f.calls, "toggle")
	return nil
}

func (f *fakePlayer) Next(context.Context) error {
	f.calls = append(f.calls, "next")
	return nil
}

func (f *fakePlayer) Previous(context.Context) error {
	return fmt.Errorf("no active device")
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m *Model, msg tea.Msg) tea.Cmd {
	t.Helper()
	_, cmd := m.Update(msg)
	return cmd
}

// exec runs cmd and feeds its message back into the model.
func exec(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	m.Update(cmd())
}

func lastCall(calls []string) string {
	if len(calls) == 0 {
		return ""
	}
	return calls[len(calls)-1]
}

func loadedTab(id, url, title string) tabs.Tab {
	return tabs.Tab{ID: id, URL: url, InputURL: url, Title: title}
}

func TestPasswordGate(t *testing.T) {
	r := &fakeRoom{
		password: "1234",
		state: room.State{
			RoomID:           "42",
			Room:             &models.Room{ID: "42", Name: "Study A", Password: "1234"},
			RequiresPassword: true,
		},
	}
	m := NewModel(context.Background(), Options{Tabs: newFakeTabs(loadedTab("t1", "https://github.com", "GitHub")), Room: r})

	t.Run("only the challenge is shown", func(t *testing.T) {
		view := m.View()
		if !strings.Contains(view, room.MsgPasswordRequired) || !strings.Contains(view, "Study A") {
			t.Errorf("expected password challenge, got %q", view)
		}
		if strings.Contains(view, "GitHub") {
			t.Errorf("expected tabs hidden behind the gate, got %q", view)
		}
	})

	t.Run("page keys are not handled", func(t *testing.T) {
		press(t, m, keys("q"))
		if m.focus != focusPassword {
			t.Errorf("expected focus to stay on the password prompt")
		}
	})

	t.Run("incorrect password", func(t *testing.T) {
		m.password.SetValue("0000")
		press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
		if !strings.Contains(m.View(), room.MsgIncorrectPass) {
			t.Errorf("expected incorrect password message, got %q", m.View())
		}
		if m.password.Value() != "" {
			t.Error("expected prompt cleared")
		}
	})

	t.Run("correct password opens the chrome", func(t *testing.T) {
		m.password.SetValue("1234")
		press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
		if m.focus != focusPage {
			t.Fatalf("expected page focus, got %v", m.focus)
		}
		if view := m.View(); !strings.Contains(view, "GitHub") || strings.Contains(view, room.MsgIncorrectPass) {
			t.Errorf("expected chrome, got %q", view)
		}
	})

	t.Run("gate reappears when the room requires it again", func(t *testing.T) {
		r.state.IsAuthenticated = false
		m.Update(roomChangedMsg(r.state))
		if m.focus != focusPassword {
			t.Error("expected gate to block again")
		}
	})

	t.Run("stale notification reads the live room state", func(t *testing.T) {
		stale := r.state
		r.state.IsAuthenticated = true
		m.Update(roomChangedMsg(stale))
		if m.focus == focusPassword {
			t.Error("expected the live authenticated state to open the chrome")
		}
	})
}

func TestAddressBar(t *testing.T) {
	t.Run("navigates the active tab", func(t *testing.T) {
		ft := newFakeTabs(loadedTab("t1", "https://github.com", "GitHub"))
		m := NewModel(context.Background(), Options{Tabs: ft})

		if m.address.Value() != "https://github.com" {
			t.Errorf("expected address to mirror the tab, got %q", m.address.Value())
		}

		press(t, m, keys("/"))
		if m.focus != focusAddress {
			t.Fatal("expected address focus")
		}
		m.address.SetValue("")
		press(t, m, keys("example.com"))
		if ft.tabs[0].InputURL != "example.com" {
			t.Errorf("expected input recorded on the tab, got %q", ft.tabs[0].InputURL)
		}

		exec(t, m, press(t, m, tea.KeyMsg{Type: tea.KeyEnter}))
		if got := lastCall(ft.calls); got != "navigate:t1:example.com" {
			t.Errorf("unexpected call %q", got)
		}
		if m.focus != focusPage {
			t.Error("expected focus back on the page")
		}
	})

	t.Run("escape restores the tab address", func(t *testing.T) {
		ft := newFakeTabs(loadedTab("t1", "https://github.com", "GitHub"))
		m := NewModel(context.Background(), Options{Tabs: ft})

		press(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
		m.address.SetValue("")
		press(t, m, keys("abc"))
		if ft.tabs[0].InputURL != "abc" {
			t.Fatalf("expected typed input on the tab, got %q", ft.tabs[0].InputURL)
		}
		press(t, m, tea.KeyMsg{Type: tea.KeyEsc})

		if ft.tabs[0].InputURL != "https://github.com" || m.address.Value() != "https://github.com" || len(ft.calls) != 0 {
			t.Errorf("expected no navigation and restored text, got %q %v", m.address.Value(), ft.calls)
		}
	})

	t.Run("opens a tab when none exist", func(t *testing.T) {
		ft := newFakeTabs()
		m := NewModel(context.Background(), Options{Tabs: ft})

		press(t, m, keys("/"))
		press(t, m, keys("mesaconnect.io"))
		exec(t, m, press(t, m, tea.KeyMsg{Type: tea.KeyEnter}))
		if got := lastCall(ft.calls); got != "create:mesaconnect.io" {
			t.Errorf("unexpected call %q", got)
		}
	})

	t.Run("blank input does nothing", func(t *testing.T) {
		ft := newFakeTabs(loadedTab("t1", "", ""))
		m := NewModel(context.Background(), Options{Tabs: ft})
		press(t, m, keys("/"))
		if cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
			t.Error("expected no command for blank input")
		}
	})
}

func TestTabKeys(t *testing.T) {
	ft := newFakeTabs(loadedTab("t1", "https://github.com", "GitHub"), loadedTab("t2", "https://google.com", "Google"))
	m := NewModel(context.Background(), Options{Tabs: ft})

	tests := []struct {
		name string
		msg  tea.KeyMsg
		want string
		cmd  bool
	}{
		{name: "next tab", msg: tea.KeyMsg{Type: tea.KeyTab}, want: "switch:1"},
		{name: "previous tab", msg: tea.KeyMsg{Type: tea.KeyShiftTab}, want: "switch:-1"},
		{name: "back", msg: keys("h"), want: "back", cmd: true},
		{name: "forward", msg: keys("l"), want: "forward", cmd: true},
		{name: "reload", msg: keys("r"), want: "reload", cmd: true},
		{name: "close", msg: tea.KeyMsg{Type: tea.KeyCtrlW}, want: "close:t1", cmd: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := press(t, m, tt.msg)
			if tt.cmd {
				exec(t, m, cmd)
			}
			if got := lastCall(ft.calls); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("new tab focuses the address bar", func(t *testing.T) {
		press(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
		if lastCall(ft.calls) != "create:" || m.focus != focusAddress {
			t.Errorf("expected dashboard tab and address focus, got %v %v", ft.calls, m.focus)
		}
		if !strings.Contains(m.View(), tabs.NewTabTitle) {
			t.Errorf("expected new tab in the bar, got %q", m.View())
		}
	})

	t.Run("quit", func(t *testing.T) {
		press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
		cmd := press(t, m, keys("q"))
		if cmd == nil {
			t.Fatal("expected quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("expected tea.QuitMsg")
		}
	})
}

func TestDashboard(t *testing.T) {
	ft := newFakeTabs(tabs.Tab{ID: "t1", Title: tabs.NewTabTitle, IsNewTabPage: true})
	m := NewModel(context.Background(), Options{Tabs: ft})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})

	if view := m.View(); !strings.Contains(view, tabs.Dashboard[0].Name) {
		t.Errorf("expected dashboard shortcuts, got %q", view)
	}

	t.Run("number opens a shortcut", func(t *testing.T) {
		exec(t, m, press(t, m, keys("2")))
		want := "navigate:t1:" + tabs.Dashboard[1].URL
		if got := lastCall(ft.calls); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("enter opens the selection", func(t *testing.T) {
		exec(t, m, press(t, m, tea.KeyMsg{Type: tea.KeyEnter}))
		want := "navigate:t1:" + tabs.Dashboard[0].URL
		if got := lastCall(ft.calls); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})
}

func TestRoomBanner(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	exp := models.Timestamp{Time: now.Add(90 * time.Minute)}
	r := &fakeRoom{state: room.State{
		RoomID:           "42",
		Room:             &models.Room{ID: "42", Name: "Study A", ExpirationDate: &exp},
		Users:            []models.Presence{{UserID: "u1"}, {UserID: "u2"}},
		Error:            "Room expires in 2 hours. Consider extending the session.",
		ExpirationStatus: room.ExpiringSoon,
	}}
	ft := newFakeTabs(loadedTab("t1", "https://github.com", "GitHub"))
	m := NewModel(context.Background(), Options{Tabs: ft, Room: r, Now: func() time.Time { return now }})

	view := m.View()
	for _, want := range []string{"Study A", "2 here", "Focus 25:00", r.state.Error} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in %q", want, view)
		}
	}

	t.Run("timer toggles", func(t *testing.T) {
		press(t, m, keys("f"))
		m.Update(roomChangedMsg(r.state))
		press(t, m, keys("f"))
		press(t, m, keys("F"))
		if got := strings.Join(r.calls, ","); got != "start,pause,reset" {
			t.Errorf("unexpected calls %s", got)
		}
	})

	t.Run("extend", func(t *testing.T) {
		exec(t, m, press(t, m, keys("e")))
		if lastCall(r.calls) != "extend:1" {
			t.Errorf("unexpected calls %v", r.calls)
		}
	})

	t.Run("no room, no banner", func(t *testing.T) {
		m := NewModel(context.Background(), Options{Tabs: ft})
		if strings.Contains(m.View(), "here") {
			t.Errorf("unexpected banner in %q", m.View())
		}
	})
}

func TestNowPlaying(t *testing.T) {
	ft := newFakeTabs(loadedTab("t1", "https://github.com", "GitHub"))

	t.Run("signed out", func(t *testing.T) {
		m := NewModel(context.Background(), Options{Tabs: ft, Player: &fakePlayer{}})
		if !strings.Contains(m.View(), "Spotify not connected") {
			t.Errorf("expected signed out line, got %q", m.View())
		}
	})

	t.Run("track and controls", func(t *testing.T) {
		p := &fakePlayer{state: playback.State{
			Authenticated: true,
			IsPlaying:     true,
			Track:         &playback.Track{Name: "Song", Artists: "Band", Duration: 3*time.Minute + 5*time.Second},
			Progress:      65 * time.Second,
		}}
		m := NewModel(context.Background(), Options{Tabs: ft, Player: p})
		if view := m.View(); !strings.Contains(view, "▶ Song · Band  1:05 / 3:05") {
			t.Errorf("unexpected now playing in %q", view)
		}

		exec(t, m, press(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}))
		exec(t, m, press(t, m, keys("n")))
		if got := strings.Join(p.calls, ","); got != "toggle,next" {
			t.Errorf("unexpected calls %s", got)
		}

		exec(t, m, press(t, m, keys("p")))
		if !strings.Contains(m.View(), "previous track failed: no active device") {
			t.Errorf("expected failure status, got %q", m.View())
		}
	})

	t.Run("state updates", func(t *testing.T) {
		m := NewModel(context.Background(), Options{Tabs: ft, Player: &fakePlayer{}})
		m.Update(playbackChangedMsg(playback.State{Authenticated: true}))
		if !strings.Contains(m.View(), "Nothing playing") {
			t.Errorf("expected idle player, got %q", m.View())
		}
	})
}

func TestSubscriptions(t *testing.T) {
	ft := newFakeTabs(loadedTab("t1", "https://github.com", "GitHub"))
	m := NewModel(context.Background(), Options{Tabs: ft})

	ft.tabs[0].InputURL = "https://github.com/charmbracelet"
	ft.ch <- tabs.Change{Kind: tabs.TabUpdated, TabID: "t1"}

	msg := m.waitTabs()()
	if got, ok := msg.(Msg); !ok || got.kind != MsgTabsChanged {
		t.Fatalf("expected tabs change, got %#v", msg)
	}
	_, next := m.Update(msg)
	if next == nil {
		t.Error("expected the subscription to be re-armed")
	}
	if m.address.Value() != "https://github.com/charmbracelet" {
		t.Errorf("expected address synced, got %q", m.address.Value())
	}

	close(ft.ch)
	if got := m.waitTabs()().(Msg); got.kind != MsgSourceClosed {
		t.Errorf("expected closed source, got %v", got.kind)
	}
	if m.waitRoom() != nil || m.waitPlayback() != nil {
		t.Error("expected no waits without room or player")
	}
}
