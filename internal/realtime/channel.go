package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/mesakiosk/internal/models"
)

// ChannelOptions configures a channel join.
type ChannelOptions struct {
	// PresenceKey groups this client's presence metas. Empty lets the server pick one.
	PresenceKey string
	// BroadcastSelf echoes this client's own broadcasts back to it.
	BroadcastSelf bool
}

type channelState int

const (
	stateClosed channelState = iota
	stateJoining
	stateJoined
	stateErrored
)

type binding struct {
	filter models.ChangeFilter
	fn     func(models.Change)
	id     int
}

// Channel is one joined topic on a [Client].
//
// Register handlers before calling Subscribe.
type Channel struct {
	client *Client
	topic  string
	opts   ChannelOptions

	mu         sync.Mutex
	state      channelState
	joinRef    string
	joinTimer  *time.Timer
	statusFn   func(models.ChannelStatus, error)
	presenceFn func(models.PresenceState)
	broadcasts map[string]func(json.RawMessage)
	bindings   []binding
	presence   models.PresenceState
}

func newChannel(c *Client, topic string, opts ChannelOptions) *Channel {
	return &Channel{client: c, topic: topic, opts: opts, broadcasts: make(map[string]func(json.RawMessage))}
}

// Topic returns the wire topic, including the realtime: prefix.
func (ch *Channel) Topic() string { return ch.topic }

// OnPresenceSync registers fn to receive the full presence snapshot after every state or diff.
func (ch *Channel) OnPresenceSync(fn func(models.PresenceState)) {
	ch.mu.Lock()
	ch.presenceFn = fn
	ch.mu.Unlock()
}

// OnBroadcast registers fn for broadcasts named event.
func (ch *Channel) OnBroadcast(event string, fn func(json.RawMessage)) {
	ch.mu.Lock()
	ch.broadcasts[event] = fn
	ch.mu.Unlock()
}

// OnPostgresChange registers fn for database changes matching filter.
func (ch *Channel) OnPostgresChange(filter models.ChangeFilter, fn func(models.Change)) {
	ch.mu.Lock()
	ch.bindings = append(ch.bindings, binding{filter: filter, fn: fn, id: -1})
	ch.mu.Unlock()
}

// Subscribe connects the client if needed and joins the topic. fn receives SUBSCRIBED once the
// server accepts the join, and later status changes. The returned error covers only the connect
// and the join write.
func (ch *Channel) Subscribe(ctx context.Context, fn func(models.ChannelStatus, error)) error {
	ch.mu.Lock()
	ch.statusFn = fn
	ch.mu.Unlock()

	if err := ch.client.Connect(ctx); err != nil {
		return err
	}
	ch.client.register(ch)
	return ch.join(ctx)
}

func (ch *Channel) join(ctx context.Context) error {
	var cfg joinConfig
	cfg.Config.Broadcast.Self = ch.opts.BroadcastSelf
	cfg.Config.Presence.Key = ch.opts.PresenceKey
	cfg.AccessToken = ch.client.accessToken()

	ch.mu.Lock()
	cfg.Config.PostgresChanges = make([]models.ChangeFilter, 0, len(ch.bindings))
	for _, b := range ch.bindings {
		cfg.Config.PostgresChanges = append(cfg.Config.PostgresChanges, b.filter)
	}
	ref := ch.client.nextRef()
	ch.joinRef = ref
	ch.state = stateJoining
	if ch.joinTimer != nil {
		ch.joinTimer.Stop()
	}
	ch.joinTimer = time.AfterFunc(ch.client.joinTimeout, func() { ch.timedOut(ref) })
	ch.mu.Unlock()

	m, err := newMessage(ch.topic, eventJoin, cfg)
	if err != nil {
		return err
	}
	m.Ref, m.JoinRef = ref, ref
	ch.client.logger.Debug("joining channel", "topic", ch.topic, "ref", ref)
	return ch.client.push(ctx, m)
}

func (ch *Channel) timedOut(ref string) {
	ch.mu.Lock()
	if ch.state != stateJoining || ch.joinRef != ref {
		ch.mu.Unlock()
		return
	}
	ch.state = stateErrored
	fn := ch.statusFn
	ch.mu.Unlock()

	ch.client.logger.Warn("channel join timed out", "topic", ch.topic)
	if fn != nil {
		fn(models.ChannelTimedOut, nil)
	}
}

// Track announces payload as this client's presence. The channel must be joined.
func (ch *Channel) Track(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}
	return ch.pushJoined(ctx, eventPresence, envelope{Type: eventPresence, Event: "track", Payload: body})
}

// Untrack removes this client's presence.
func (ch *Channel) Untrack(ctx context.Context) error {
	return ch.pushJoined(ctx, eventPresence, envelope{Type: eventPresence, Event: "untrack"})
}

// Send broadcasts payload as event to the other subscribers.
func (ch *Channel) Send(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %w", err)
	}
	return ch.pushJoined(ctx, eventBroadcast, envelope{Type: eventBroadcast, Event: event, Payload: body})
}

func (ch *Channel) pushJoined(ctx context.Context, event string, payload any) error {
	ch.mu.Lock()
	state, joinRef := ch.state, ch.joinRef
	ch.mu.Unlock()
	if state != stateJoined {
		return fmt.Errorf("%w: %s", ErrNotJoined, ch.topic)
	}

	m, err := newMessage(ch.topic, event, payload)
	if err != nil {
		return err
	}
	m.Ref, m.JoinRef = ch.client.nextRef(), joinRef
	return ch.client.push(ctx, m)
}

// Unsubscribe leaves the topic and removes the channel from the client.
func (ch *Channel) Unsubscribe(ctx context.Context) error {
	ch.mu.Lock()
	wasOpen := ch.state == stateJoined || ch.state == stateJoining
	joinRef := ch.joinRef
	ch.mu.Unlock()

	ch.client.unregister(ch)

	var err error
	if wasOpen && ch.client.Connected() {
		m, _ := newMessage(ch.topic, eventLeave, nil)
		m.Ref, m.JoinRef = ch.client.nextRef(), joinRef
		err = ch.client.push(ctx, m)
	}
	ch.closed(nil)
	return err
}

func (ch *Channel) closed(err error) {
	ch.setState(stateClosed, models.ChannelClosed, err)
}

func (ch *Channel) errored(err error) {
	ch.setState(stateErrored, models.ChannelError, err)
}

func (ch *Channel) setState(state channelState, status models.ChannelStatus, err error) {
	ch.mu.Lock()
	if ch.state == state {
		ch.mu.Unlock()
		return
	}
	ch.state = state
	if ch.joinTimer != nil {
		ch.joinTimer.Stop()
		ch.joinTimer = nil
	}
	fn := ch.statusFn
	ch.mu.Unlock()

	if fn != nil {
		fn(status, err)
	}
}

// handle dispatches one frame for this topic. Handlers are called without ch.mu held.
func (ch *Channel) handle(m message) {
	switch m.Event {
	case eventReply:
		ch.handleReply(m)
	case eventPresenceState:
		state, err := decodeState(m.Payload)
		if err != nil {
			ch.client.logger.Warn("bad presence state", "topic", ch.topic, "error", err)
			return
		}
		ch.syncPresence(func(models.PresenceState) models.PresenceState { return state })
	case eventPresenceDiff:
		var diff presenceDiff
		if err := json.Unmarshal(m.Payload, &diff); err != nil {
			ch.client.logger.Warn("bad presence diff", "topic", ch.topic, "error", err)
			return
		}
		ch.syncPresence(func(cur models.PresenceState) models.PresenceState { return applyDiff(cur, diff) })
	case eventBroadcast:
		var env envelope
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			ch.client.logger.Warn("bad broadcast", "topic", ch.topic, "error", err)
			return
		}
		ch.mu.Lock()
		fn := ch.broadcasts[env.Event]
		ch.mu.Unlock()
		if fn != nil {
			fn(env.Payload)
		}
	case eventPostgresChanges:
		var frame changeFrame
		if err := json.Unmarshal(m.Payload, &frame); err != nil {
			ch.client.logger.Warn("bad postgres change", "topic", ch.topic, "error", err)
			return
		}
		for _, fn := range ch.changeHandlers(frame) {
			fn(frame.Data)
		}
	case eventError:
		ch.client.logger.Warn("channel error", "topic", ch.topic, "payload", string(m.Payload))
		ch.errored(fmt.Errorf("%w: %s", ErrJoinRejected, m.Payload))
	case eventClose:
		ch.client.unregister(ch)
		ch.closed(nil)
	}
}

func (ch *Channel) handleReply(m message) {
	ch.mu.Lock()
	if m.Ref != ch.joinRef || ch.state != stateJoining {
		ch.mu.Unlock()
		return
	}
	ch.mu.Unlock()

	var r reply
	if err := json.Unmarshal(m.Payload, &r); err != nil {
		ch.errored(fmt.Errorf("%w: %v", ErrJoinRejected, err))
		return
	}
	if r.Status != "ok" {
		ch.client.logger.Warn("channel join rejected", "topic", ch.topic, "status", r.Status, "reason", r.Response.Reason)
		ch.errored(fmt.Errorf("%w: %s %s", ErrJoinRejected, r.Status, r.Response.Reason))
		return
	}

	ch.mu.Lock()
	for i := range ch.bindings {
		if i < len(r.Response.PostgresChanges) {
			ch.bindings[i].id = r.Response.PostgresChanges[i].ID
		}
	}
	ch.mu.Unlock()

	ch.client.logger.Debug("channel joined", "topic", ch.topic)
	ch.setState(stateJoined, models.ChannelSubscribed, nil)
}

// changeHandlers selects bindings by server id, falling back to the filter when the frame has none.
func (ch *Channel) changeHandlers(frame changeFrame) []func(models.Change) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	var fns []func(models.Change)
	for _, b := range ch.bindings {
		var matched bool
		if len(frame.IDs) > 0 && b.id >= 0 {
			matched = slices.Contains(frame.IDs, b.id)
		} else {
			matched = b.filter.Matches(frame.Data)
		}
		if matched {
			fns = append(fns, b.fn)
		}
	}
	return fns
}

func (ch *Channel) syncPresence(next func(models.PresenceState) models.PresenceState) {
	ch.mu.Lock()
	ch.presence = next(ch.presence)
	snapshot := maps.Clone(ch.presence)
	fn := ch.presenceFn
	ch.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}
