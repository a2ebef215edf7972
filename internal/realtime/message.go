package realtime

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/desertthunder/mesakiosk/internal/models"
)

// Phoenix channel events.
const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"

	eventBroadcast       = "broadcast"
	eventPresence        = "presence"
	eventPresenceState   = "presence_state"
	eventPresenceDiff    = "presence_diff"
	eventPostgresChanges = "postgres_changes"

	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"
)

// message is one Phoenix v1 JSON frame.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

func newMessage(topic, event string, payload any) (message, error) {
	if payload == nil {
		payload = struct{}{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return message{}, err
	}
	return message{Topic: topic, Event: event, Payload: b}, nil
}

type joinConfig struct {
	Config struct {
		Broadcast struct {
			Self bool `json:"self"`
			Ack  bool `json:"ack"`
		} `json:"broadcast"`
		Presence struct {
			Key string `json:"key"`
		} `json:"presence"`
		PostgresChanges []models.ChangeFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type reply struct {
	Status   string `json:"status"`
	Response struct {
		PostgresChanges []struct {
			ID int `json:"id"`
			models.ChangeFilter
		} `json:"postgres_changes"`
		Reason string `json:"reason"`
	} `json:"response"`
}

// envelope wraps broadcast and presence pushes.
type envelope struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type changeFrame struct {
	IDs  []int         `json:"ids"`
	Data models.Change `json:"data"`
}

type presenceEntry struct {
	Metas []json.RawMessage `json:"metas"`
}

type presenceDiff struct {
	Joins  map[string]presenceEntry `json:"joins"`
	Leaves map[string]presenceEntry `json:"leaves"`
}

func phxRef(meta json.RawMessage) string {
	var m struct {
		Ref string `json:"phx_ref"`
	}
	_ = json.Unmarshal(meta, &m)
	return m.Ref
}

func decodeState(raw json.RawMessage) (models.PresenceState, error) {
	var entries map[string]presenceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	state := make(models.PresenceState, len(entries))
	for key, e := range entries {
		state[key] = e.Metas
	}
	return state, nil
}

// applyDiff merges joins and removes leaves by phx_ref. Keys left without metas are dropped.
func applyDiff(state models.PresenceState, diff presenceDiff) models.PresenceState {
	next := maps.Clone(state)
	if next == nil {
		next = models.PresenceState{}
	}

	for key, e := range diff.Joins {
		current := slices.Clone(next[key])
		for _, meta := range e.Metas {
			ref := phxRef(meta)
			if ref != "" && slices.ContainsFunc(current, func(m json.RawMessage) bool { return phxRef(m) == ref }) {
				continue
			}
			current = append(current, meta)
		}
		next[key] = current
	}

	for key, e := range diff.Leaves {
		current, ok := next[key]
		if !ok {
			continue
		}
		gone := make(map[string]bool, len(e.Metas))
		for _, meta := range e.Metas {
			gone[phxRef(meta)] = true
		}
		current = slices.DeleteFunc(slices.Clone(current), func(m json.RawMessage) bool { return gone[phxRef(m)] })
		if len(current) == 0 {
			delete(next, key)
			continue
		}
		next[key] = current
	}
	return next
}
