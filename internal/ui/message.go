package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/mesakiosk/internal/playback"
	"github.com/desertthunder/mesakiosk/internal/room"
	"github.com/desertthunder/mesakiosk/internal/tabs"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgTabsChanged MsgKind = iota
	MsgRoomChanged
	MsgPlaybackChanged
	MsgActionDone
	MsgSourceClosed
)

// tabsChangedMsg is the constructor for [MsgTabsChanged]
func tabsChangedMsg(change tabs.Change) Msg {
	return Msg{kind: MsgTabsChanged, data: change}
}

// roomChangedMsg is the constructor for [MsgRoomChanged]
func roomChangedMsg(state room.State) Msg {
	return Msg{kind: MsgRoomChanged, data: state}
}

// playbackChangedMsg is the constructor for [MsgPlaybackChanged]
func playbackChangedMsg(state playback.State) Msg {
	return Msg{kind: MsgPlaybackChanged, data: state}
}

// actionDoneMsg is the constructor for [MsgActionDone]. A nil err clears the status line.
func actionDoneMsg(action string, err error) Msg {
	return Msg{
		kind: MsgActionDone,
		data: struct {
			action string
			err    error
		}{action, err},
	}
}

// sourceClosedMsg is the constructor for [MsgSourceClosed]
func sourceClosedMsg(source MsgKind) Msg {
	return Msg{kind: MsgSourceClosed, data: source}
}
