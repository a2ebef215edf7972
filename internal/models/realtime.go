package models

import (
	"encoding/json"
	"time"
)

// Presence is one connected client as tracked on a room channel.
type Presence struct {
	OnlineAt string `json:"online_at"`
	UserID   string `json:"user_id"`
	User     string `json:"user"`
	RoomID   string `json:"room_id"`
}

// Valid reports whether every field is present.
func (p Presence) Valid() bool {
	return p.OnlineAt != "" && p.UserID != "" && p.User != "" && p.RoomID != ""
}

// NewPresence builds the value a client tracks after subscribing.
func NewPresence(userID, name, roomID string, now time.Time) Presence {
	return Presence{
		OnlineAt: now.UTC().Format(time.RFC3339Nano),
		UserID:   userID,
		User:     name,
		RoomID:   roomID,
	}
}

// PresenceState is a full presence snapshot: presence key to the metas tracked under it.
type PresenceState map[string][]json.RawMessage

// Entries decodes the first meta of every key and drops entries missing any field.
func (s PresenceState) Entries() []Presence {
	entries := make([]Presence, 0, len(s))
	for _, metas := range s {
		if len(metas) == 0 {
			continue
		}
		var p Presence
		if err := json.Unmarshal(metas[0], &p); err != nil {
			continue
		}
		if p.Valid() {
			entries = append(entries, p)
		}
	}
	return entries
}

// Message is a chat broadcast. Fields outside the known set are kept in Extra.
type Message struct {
	ID        ID             `json:"id"`
	Content   string         `json:"content"`
	UserID    string         `json:"user_id"`
	CreatedAt string         `json:"created_at"`
	Extra     map[string]any `json:"-"`
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range []string{"id", "content", "user_id", "created_at"} {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}

	*m = Message(p)
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["id"] = m.ID
	out["content"] = m.Content
	out["user_id"] = m.UserID
	out["created_at"] = m.CreatedAt
	return json.Marshal(out)
}

// ChangeFilter selects postgres change events on a channel.
type ChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// Matches reports whether c satisfies f. Empty and "*" fields match anything.
func (f ChangeFilter) Matches(c Change) bool {
	match := func(want, got string) bool { return want == "" || want == "*" || want == got }
	return match(f.Event, c.Type) && match(f.Schema, c.Schema) && match(f.Table, c.Table)
}

// Change is a postgres change event delivered over a channel.
type Change struct {
	Type      string          `json:"type"`
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

// ChannelStatus is the subscription state reported to a channel's subscribe callback.
type ChannelStatus int

const (
	ChannelSubscribed ChannelStatus = iota
	ChannelError
	ChannelTimedOut
	ChannelClosed
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelSubscribed:
		return "SUBSCRIBED"
	case ChannelError:
		return "CHANNEL_ERROR"
	case ChannelTimedOut:
		return "TIMED_OUT"
	case ChannelClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
