// Package ui implements the kiosk chrome as a terminal interface using bubbletea's Elm architecture.
//
// The screen is built from:
//  1. a tab bar with one entry per tab, showing its site glyph and title
//  2. the address bar, a [textinput.Model] bound to the active tab's input text
//  3. the page area: the website dashboard for new tab pages, page details otherwise
//  4. the room banner: name, time remaining, presence count, pomodoro and the derived room message
//  5. the now playing line fed by the playback player
//
// While the mounted room requires a password that has not been entered, only the password
// challenge is rendered (see [room.ShouldBlock]).
//
// State changes arrive on the tab manager, room session and player subscriptions. Each is drained
// by a command that waits for the next value, so the model never blocks in Update.
package ui
