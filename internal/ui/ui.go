package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/mesakiosk/internal/formatter"
	"github.com/desertthunder/mesakiosk/internal/playback"
	"github.com/desertthunder/mesakiosk/internal/room"
	"github.com/desertthunder/mesakiosk/internal/tabs"
)

const maxTabTitle = 18

// Tabs is the part of [tabs.Manager] the chrome drives.
type Tabs interface {
	Tabs() []tabs.Tab
	ActiveID() string
	Icon(rawURL string) tabs.Icon
	Create(ctx context.Context, rawURL string, asNewTabPage bool) tabs.Tab
	Close(id string) error
	SwitchBy(offset int)
	SetInput(id, text string)
	Navigate(ctx context.Context, id, raw string) error
	GoBack(ctx context.Context)
	GoForward(ctx context.Context)
	Reload(ctx context.Context)
	Subscribe() (<-chan tabs.Change, func())
}

// Room is the part of [room.Session] the chrome drives.
type Room interface {
	State() room.State
	Subscribe() (<-chan room.State, func())
	Authenticate(password string) bool
	ExtendExpiration(ctx context.Context, hours int) error
	StartPomodoro() error
	PausePomodoro()
	ResetPomodoro()
}

// Player is the part of [playback.Player] the chrome drives.
type Player interface {
	State() playback.State
	Subscribe() (<-chan playback.State, func())
	Toggle(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
}

// Options wires the chrome to its state owners. Room and Player are optional.
type Options struct {
	Tabs   Tabs
	Room   Room
	Player Player
	Now    func() time.Time
}

type focus int

const (
	focusPage focus = iota
	focusAddress
	focusPassword
)

// Model represents the TUI application state.
type Model struct {
	ctx    context.Context
	tabs   Tabs
	room   Room
	player Player
	now    func() time.Time

	width  int
	height int
	focus  focus

	address   textinput.Model
	password  textinput.Model
	dashboard list.Model

	roomState room.State
	playState playback.State

	tabCh   <-chan tabs.Change
	roomCh  <-chan room.State
	playCh  <-chan playback.State
	cancels []func()

	status    string
	statusErr bool
	help      help.Model
	keys      keyMap
}

// NewModel creates the chrome and subscribes to every state owner in opts. Call [Model.Close]
// after the program exits.
func NewModel(ctx context.Context, opts Options) *Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	address := textinput.New()
	address.Placeholder = "Search or enter address"
	address.Prompt = "› "

	password := textinput.New()
	password.Placeholder = "Room password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	m := &Model{
		ctx:       ctx,
		tabs:      opts.Tabs,
		room:      opts.Room,
		player:    opts.Player,
		now:       opts.Now,
		address:   address,
		password:  password,
		dashboard: newDashboard(opts.Tabs.Icon),
		help:      help.New(),
		keys:      newKeyMap(),
	}

	var cancel func()
	m.tabCh, cancel = opts.Tabs.Subscribe()
	m.cancels = append(m.cancels, cancel)
	if m.room != nil {
		m.roomCh, cancel = m.room.Subscribe()
		m.cancels = append(m.cancels, cancel)
		m.roomState = m.room.State()
	}
	if m.player != nil {
		m.playCh, cancel = m.player.Subscribe()
		m.cancels = append(m.cancels, cancel)
		m.playState = m.player.State()
	}

	m.syncAddress()
	m.syncGate()
	return m
}

// Close drops the state subscriptions.
func (m *Model) Close() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
}

// Init starts draining the subscriptions.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitTabs(), m.waitRoom(), m.waitPlayback())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.address.Width = max(msg.Width-8, 10)
		m.dashboard.SetSize(max(msg.Width-4, 10), max(msg.Height-14, 4))
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.focus {
		case focusPassword:
			return m.handlePasswordKeys(msg)
		case focusAddress:
			return m.handleAddressKeys(msg)
		default:
			return m.handlePageKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	switch m.focus {
	case focusAddress:
		m.address, cmd = m.address.Update(msg)
	case focusPassword:
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgTabsChanged:
		m.syncAddress()
		return m, m.waitTabs()
	case MsgRoomChanged:
		// The notification may be superseded or dropped; the session holds the live state.
		m.roomState = m.room.State()
		m.syncGate()
		return m, m.waitRoom()
	case MsgPlaybackChanged:
		m.playState = msg.data.(playback.State)
		return m, m.waitPlayback()
	case MsgActionDone:
		done := msg.data.(struct {
			action string
			err    error
		})
		if done.err != nil {
			m.setStatus(fmt.Sprintf("%s failed: %v", done.action, done.err), true)
		} else {
			m.setStatus("", false)
		}
	}
	return m, nil
}

func (m *Model) handlePasswordKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.enter) {
		value := m.password.Value()
		m.password.Reset()
		if !m.room.Authenticate(value) {
			m.setStatus(room.MsgIncorrectPass, true)
			return m, nil
		}
		m.setStatus("", false)
		m.roomState = m.room.State()
		m.syncGate()
		return m, nil
	}

	var cmd tea.Cmd
	m.password, cmd = m.password.Update(msg)
	return m, cmd
}

func (m *Model) handleAddressKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.tabs.ActiveID()
	switch {
	case key.Matches(msg, m.keys.enter):
		text := strings.TrimSpace(m.address.Value())
		m.blurAddress()
		if text == "" {
			return m, nil
		}
		if id == "" {
			return m, m.run("open", func(ctx context.Context) error {
				m.tabs.Create(ctx, text, false)
				return nil
			})
		}
		return m, m.run("navigate", func(ctx context.Context) error { return m.tabs.Navigate(ctx, id, text) })
	case key.Matches(msg, m.keys.cancel):
		m.blurAddress()
		if t, ok := m.activeTab(); ok {
			m.tabs.SetInput(t.ID, t.URL)
		}
		m.syncAddress()
		return m, nil
	}

	var cmd tea.Cmd
	m.address, cmd = m.address.Update(msg)
	if id != "" {
		m.tabs.SetInput(id, m.address.Value())
	}
	return m, cmd
}

func (m *Model) handlePageKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.tabs.ActiveID()
	onDashboard := m.onDashboard()

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.newTab):
		m.tabs.Create(m.ctx, "", true)
		return m, m.focusAddress()
	case key.Matches(msg, m.keys.closeTab):
		if id == "" {
			return m, nil
		}
		return m, m.run("close tab", func(context.Context) error { return m.tabs.Close(id) })
	case key.Matches(msg, m.keys.nextTab):
		m.tabs.SwitchBy(1)
		return m, nil
	case key.Matches(msg, m.keys.prevTab):
		m.tabs.SwitchBy(-1)
		return m, nil
	case key.Matches(msg, m.keys.address):
		return m, m.focusAddress()
	case key.Matches(msg, m.keys.back):
		return m, m.run("back", func(ctx context.Context) error { m.tabs.GoBack(ctx); return nil })
	case key.Matches(msg, m.keys.forward):
		return m, m.run("forward", func(ctx context.Context) error { m.tabs.GoForward(ctx); return nil })
	case key.Matches(msg, m.keys.reload):
		return m, m.run("reload", func(ctx context.Context) error { m.tabs.Reload(ctx); return nil })
	case key.Matches(msg, m.keys.play):
		if m.player == nil {
			return m, nil
		}
		return m, m.run("play/pause", m.player.Toggle)
	case key.Matches(msg, m.keys.next):
		if m.player == nil {
			return m, nil
		}
		return m, m.run("next track", m.player.Next)
	case key.Matches(msg, m.keys.previous):
		if m.player == nil {
			return m, nil
		}
		return m, m.run("previous track", m.player.Previous)
	case key.Matches(msg, m.keys.timer):
		if m.room == nil {
			return m, nil
		}
		if m.roomState.Pomodoro.Active {
			m.room.PausePomodoro()
			return m, nil
		}
		if err := m.room.StartPomodoro(); err != nil {
			m.setStatus(fmt.Sprintf("timer: %v", err), true)
		}
		return m, nil
	case key.Matches(msg, m.keys.reset):
		if m.room != nil {
			m.room.ResetPomodoro()
		}
		return m, nil
	case key.Matches(msg, m.keys.extend):
		if m.room == nil {
			return m, nil
		}
		return m, m.run("extend", func(ctx context.Context) error { return m.room.ExtendExpiration(ctx, 1) })
	case onDashboard && key.Matches(msg, m.keys.enter):
		if item, ok := m.dashboard.SelectedItem().(shortcutItem); ok {
			return m, m.openShortcut(id, item.shortcut)
		}
		return m, nil
	}

	if onDashboard {
		if n, err := strconv.Atoi(msg.String()); err == nil && n >= 1 && n <= len(tabs.Dashboard) {
			return m, m.openShortcut(id, tabs.Dashboard[n-1])
		}
		var cmd tea.Cmd
		m.dashboard, cmd = m.dashboard.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) openShortcut(id string, s tabs.Shortcut) tea.Cmd {
	return m.run("open "+s.Name, func(ctx context.Context) error { return m.tabs.Navigate(ctx, id, s.URL) })
}

// run performs a blocking call off the update loop and reports its outcome as [MsgActionDone].
func (m *Model) run(action string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg(action, fn(ctx))
	}
}

func (m *Model) waitTabs() tea.Cmd {
	ch := m.tabCh
	return func() tea.Msg {
		change, ok := <-ch
		if !ok {
			return sourceClosedMsg(MsgTabsChanged)
		}
		return tabsChangedMsg(change)
	}
}

func (m *Model) waitRoom() tea.Cmd {
	ch := m.roomCh
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		state, ok := <-ch
		if !ok {
			return sourceClosedMsg(MsgRoomChanged)
		}
		return roomChangedMsg(state)
	}
}

func (m *Model) waitPlayback() tea.Cmd {
	ch := m.playCh
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		state, ok := <-ch
		if !ok {
			return sourceClosedMsg(MsgPlaybackChanged)
		}
		return playbackChangedMsg(state)
	}
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

func (m *Model) activeTab() (tabs.Tab, bool) {
	id := m.tabs.ActiveID()
	for _, t := range m.tabs.Tabs() {
		if t.ID == id {
			return t, true
		}
	}
	return tabs.Tab{}, false
}

func (m *Model) onDashboard() bool {
	t, ok := m.activeTab()
	return ok && t.IsNewTabPage
}

// syncAddress mirrors the active tab's input text unless the user is typing.
func (m *Model) syncAddress() {
	if m.focus == focusAddress {
		return
	}
	t, _ := m.activeTab()
	m.address.SetValue(t.InputURL)
}

func (m *Model) focusAddress() tea.Cmd {
	if m.focus == focusPassword {
		return nil
	}
	m.focus = focusAddress
	t, _ := m.activeTab()
	m.address.SetValue(t.InputURL)
	m.address.CursorEnd()
	return m.address.Focus()
}

func (m *Model) blurAddress() {
	m.address.Blur()
	m.focus = focusPage
}

// syncGate moves focus to the password prompt while the room blocks, and back once it does not.
func (m *Model) syncGate() {
	blocked := m.room != nil && room.ShouldBlock(m.roomState)
	switch {
	case blocked && m.focus != focusPassword:
		m.address.Blur()
		m.focus = focusPassword
		m.password.Focus()
	case !blocked && m.focus == focusPassword:
		m.password.Blur()
		m.password.Reset()
		m.focus = focusPage
	}
}

// View renders the chrome, or only the password challenge while the room blocks.
func (m *Model) View() string {
	if m.focus == focusPassword {
		return m.renderGate()
	}

	sections := []string{m.renderTabBar(), styles.address.Render(m.address.View()), m.renderPage()}
	if banner := m.renderBanner(); banner != "" {
		sections = append(sections, banner)
	}
	if playing := m.renderNowPlaying(); playing != "" {
		sections = append(sections, playing)
	}
	if m.status != "" {
		if m.statusErr {
			sections = append(sections, styles.err.Render(m.status))
		} else {
			sections = append(sections, styles.ok.Render(m.status))
		}
	}
	sections = append(sections, m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderGate() string {
	name := "Room"
	if r := m.roomState.Room; r != nil && r.Name != "" {
		name = r.Name
	}
	lines := []string{
		styles.title.Render("🔒 " + name),
		room.MsgPasswordRequired,
		"",
		m.password.View(),
	}
	if m.status != "" {
		lines = append(lines, "", styles.err.Render(m.status))
	}
	quit := key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit"))
	lines = append(lines, "", m.help.ShortHelpView([]key.Binding{m.keys.enter, quit}))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m *Model) renderTabBar() string {
	all := m.tabs.Tabs()
	if len(all) == 0 {
		return styles.help.Render("No open tabs")
	}

	active := m.tabs.ActiveID()
	cells := make([]string, 0, len(all))
	for _, t := range all {
		label := tabLabel(t, m.tabs.Icon(t.URL))
		if t.ID == active {
			cells = append(cells, styles.activeTab.Render(label))
		} else {
			cells = append(cells, styles.tab.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func tabLabel(t tabs.Tab, icon tabs.Icon) string {
	title := t.Title
	if t.IsNewTabPage {
		title = tabs.NewTabTitle
		icon.Glyph = "+"
	}
	if title == "" {
		title = t.URL
	}
	if r := []rune(title); len(r) > maxTabTitle {
		title = string(r[:maxTabTitle-1]) + "…"
	}
	return icon.Glyph + " " + title
}

func (m *Model) renderPage() string {
	t, ok := m.activeTab()
	switch {
	case !ok:
		return styles.help.Render("Press ctrl+t to open a tab.")
	case t.IsNewTabPage:
		return m.dashboard.View()
	}

	state := "Loaded"
	if t.IsLoading {
		state = "Loading"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.title.Render(t.Title),
		t.URL,
		styles.help.Render(state),
	)
}

func (m *Model) renderBanner() string {
	if m.room == nil || m.roomState.RoomID == "" {
		return ""
	}
	st := m.roomState

	name := "Room " + st.RoomID
	if st.Room != nil && st.Room.Name != "" {
		name = st.Room.Name
	}
	if st.Fetching && st.Room == nil {
		name += " (loading)"
	}

	parts := []string{styles.ok.Render(name)}
	if st.Event != nil && st.Event.Name != "" {
		parts = append(parts, st.Event.Name)
	}
	if st.Room != nil {
		parts = append(parts, formatter.FormatExpiration(st.Room.Expiration(), m.now()))
	}
	parts = append(parts, fmt.Sprintf("%d here", len(st.Users)), pomodoroLabel(st.Pomodoro))

	lines := []string{strings.Join(parts, " · ")}
	if st.Error != "" {
		if st.ExpirationStatus == room.Expired {
			lines = append(lines, styles.err.Render(st.Error))
		} else {
			lines = append(lines, styles.warn.Render(st.Error))
		}
	}
	return styles.banner.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func pomodoroLabel(p room.Pomodoro) string {
	phase := "Focus"
	if p.Break {
		phase = "Break"
	}
	left := p.Time
	if left <= 0 {
		left = room.WorkSeconds
		if p.Break {
			left = room.BreakSeconds
		}
	}
	label := phase + " " + formatter.FormatDuration(time.Duration(left)*time.Second)
	if !p.Active {
		label += " (paused)"
	}
	return label
}

func (m *Model) renderNowPlaying() string {
	if m.player == nil {
		return ""
	}
	st := m.playState
	switch {
	case !st.Authenticated:
		return styles.help.Render("♫ Spotify not connected")
	case st.Track == nil:
		return styles.help.Render("♫ Nothing playing")
	}

	icon := "⏸"
	if st.IsPlaying {
		icon = "▶"
	}
	line := fmt.Sprintf("%s %s · %s  %s / %s", icon, st.Track.Name, st.Track.Artists,
		formatter.FormatDuration(st.Progress), formatter.FormatDuration(st.Track.Duration))
	if st.ActiveDevice != nil && st.ActiveDevice.Name != "" {
		line += styles.help.Render("  on " + st.ActiveDevice.Name)
	}
	return line
}
