// Package room mounts a MESA room: it fetches the room record, keeps derived access and
// expiration state, and follows the room's realtime channel for presence, chat and record updates.
//
// All derived state is recomputed from the record with [Expiration], [ReduceAuthenticated] and
// [DeriveError], whether the record came from the initial fetch, a change notification or a local
// extension.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/mesakiosk/internal/models"
	"github.com/desertthunder/mesakiosk/internal/shared"
)

var (
	ErrNotAdmin = errors.New("only room admins can extend the session")
	ErrNoRoom   = errors.New("no room is open")
)

// FilesBucket is the storage bucket holding per-room uploads under a <room id>/ prefix.
const FilesBucket = "rooms"

const messageEvent = "message"

// RecordStore reads and updates room records and lists room files.
type RecordStore interface {
	Room(ctx context.Context, id string) (*models.Room, error)
	UpdateRoom(ctx context.Context, id string, patch models.RoomPatch) error
	Event(ctx context.Context, id string) (*models.Event, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]models.StorageObject, error)
}

// Identity resolves the signed-in user. A nil user with a nil error is a guest.
type Identity interface {
	CurrentUser(ctx context.Context) (*models.User, error)
}

// Channel is a realtime channel scoped to one room.
//
// Handlers are registered before Subscribe and are called from the channel's read goroutine.
type Channel interface {
	OnPresenceSync(fn func(models.PresenceState))
	OnBroadcast(event string, fn func(payload json.RawMessage))
	OnPostgresChange(filter models.ChangeFilter, fn func(models.Change))
	Subscribe(ctx context.Context, fn func(models.ChannelStatus, error)) error
	Track(ctx context.Context, payload any) error
	Send(ctx context.Context, event string, payload any) error
	Unsubscribe(ctx context.Context) error
}

// ChannelOpener creates an unsubscribed channel for topic with the given presence key.
type ChannelOpener func(topic, presenceKey string) Channel

// Topic is the channel name for a room.
func Topic(roomID string) string {
	return "room:" + roomID
}

// State is a snapshot of the mounted room.
type State struct {
	RoomID           string
	Room             *models.Room
	Event            *models.Event
	Users            []models.Presence
	Messages         []models.Message
	Error            string
	IsAdmin          bool
	IsAuthenticated  bool
	RequiresPassword bool
	ExpirationStatus ExpirationStatus
	Pomodoro         Pomodoro
	Fetching         bool
	Subscribed       bool
}

func (s State) clone() State {
	out := s
	out.Users = slices.Clone(s.Users)
	out.Messages = slices.Clone(s.Messages)
	return out
}

// Options configures a [Session].
type Options struct {
	Store       RecordStore
	Identity    Identity
	OpenChannel ChannelOpener
	Chime       func()
	Logger      *log.Logger
	Now         func() time.Time
	TickEvery   time.Duration
}

// Session owns the state of the mounted room. All mutation happens under mu; store, identity and
// channel calls are made without it.
type Session struct {
	store       RecordStore
	identity    Identity
	openChannel ChannelOpener
	chime       func()
	logger      *log.Logger
	now         func() time.Time
	tickEvery   time.Duration
	bus         *shared.Bus[State]

	// pubMu orders publishes so a later snapshot is never sent before an earlier one.
	pubMu sync.Mutex

	mu         sync.Mutex
	state      State
	user       *models.User
	channel    Channel
	generation int
	roomCtx    context.Context
	roomCancel context.CancelFunc
	tickCancel context.CancelFunc
}

// NewSession returns a session with no room open. A record store is required.
func NewSession(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: room record store", shared.ErrMissingConfig)
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickEvery <= 0 {
		opts.TickEvery = time.Second
	}
	if opts.Chime == nil {
		opts.Chime = func() {}
	}
	logger := shared.WithLogger(opts.Logger, "component", "room")

	return &Session{
		store:       opts.Store,
		identity:    opts.Identity,
		openChannel: opts.OpenChannel,
		chime:       opts.Chime,
		logger:      logger,
		now:         opts.Now,
		tickEvery:   opts.TickEvery,
		bus:         shared.NewBus[State](32, logger),
	}, nil
}

// State returns a snapshot of the room state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe returns a channel of state snapshots published after every change.
func (s *Session) Subscribe() (<-chan State, func()) {
	return s.bus.Subscribe()
}

// User returns the identity resolved when the room was opened.
func (s *Session) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) publish() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.bus.Publish(s.State())
}

// update applies fn if gen is still the mounted room and publishes the result.
func (s *Session) update(gen int, fn func(*State)) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	fn(&s.state)
	s.mu.Unlock()
	s.publish()
	return true
}

// Open mounts roomID: it fetches the record, resolves the linked event and subscribes to the
// room channel. A fetch failure is reported in State.Error and returned; the channel is still opened
// so a later record update can recover the session.
func (s *Session) Open(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: room id", shared.ErrMissingArgument)
	}

	s.mu.Lock()
	if s.state.RoomID != "" {
		s.mu.Unlock()
		s.Close(ctx)
		s.mu.Lock()
	}
	s.generation++
	gen := s.generation
	s.roomCtx, s.roomCancel = context.WithCancel(context.Background())
	roomCtx := s.roomCtx
	s.state = State{RoomID: roomID, Fetching: true}
	s.mu.Unlock()
	s.publish()

	s.logger.Info("opening room", "room", roomID)

	user := s.resolveUser(ctx)
	s.mu.Lock()
	if gen == s.generation {
		s.user = user
	}
	s.mu.Unlock()

	fetchErr := s.fetch(ctx, gen, roomID)
	s.subscribe(roomCtx, gen, roomID, user)
	return fetchErr
}

// Switch tears down the mounted room and opens roomID.
func (s *Session) Switch(ctx context.Context, roomID string) error {
	s.Close(ctx)
	return s.Open(ctx, roomID)
}

// Refresh re-fetches the mounted room record.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	gen, id := s.generation, s.state.RoomID
	s.mu.Unlock()
	if id == "" {
		return ErrNoRoom
	}
	return s.fetch(ctx, gen, id)
}

func (s *Session) resolveUser(ctx context.Context) *models.User {
	if s.identity == nil {
		return nil
	}
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		s.logger.Warn("failed to resolve current user", "error", err)
		return nil
	}
	return user
}

// fetch loads the record and applies it. The previous authentication result carries over.
func (s *Session) fetch(ctx context.Context, gen int, roomID string) error {
	rec, err := s.store.Room(ctx, roomID)
	if err != nil {
		s.logger.Error("failed to fetch room", "room", roomID, "error", err)
		s.update(gen, func(st *State) {
			st.Fetching = false
			st.Error = MsgFetchFailed
		})
		return fmt.Errorf("failed to fetch room %s: %w", roomID, err)
	}

	var previousEvent models.ID
	s.update(gen, func(st *State) {
		if st.Room != nil {
			previousEvent = st.Room.EventConnection
		}
		s.applyRoom(st, rec)
		st.Fetching = false
	})

	s.resolveEvent(ctx, gen, previousEvent, rec.EventConnection, true)
	return nil
}

// applyRoom replaces the record and recomputes every derived field. Callers hold mu.
func (s *Session) applyRoom(st *State, rec *models.Room) {
	now := s.now()
	st.Room = rec
	st.RequiresPassword = rec.RequiresPassword()
	st.IsAuthenticated = ReduceAuthenticated(st.IsAuthenticated, st.RequiresPassword)
	st.ExpirationStatus = Expiration(rec.Expiration(), now)
	if s.user != nil {
		st.IsAdmin = rec.IsAdmin(s.user.ID)
	} else {
		st.IsAdmin = false
	}
	st.Error = DeriveError(st.ExpirationStatus, rec.Expiration(), now, st.RequiresPassword, st.IsAuthenticated)
}

// resolveEvent loads the linked event when the reference changed, clearing it when removed.
func (s *Session) resolveEvent(ctx context.Context, gen int, previous, current models.ID, force bool) {
	if current.IsZero() {
		s.update(gen, func(st *State) { st.Event = nil })
		return
	}
	if !force && previous == current {
		return
	}

	ev, err := s.store.Event(ctx, current.String())
	if err != nil {
		s.logger.Warn("failed to fetch room event", "event", current, "error", err)
		return
	}
	s.update(gen, func(st *State) {
		if st.Room != nil && st.Room.EventConnection == current {
			st.Event = ev
		}
	})
}

// subscribe opens the room channel and wires presence, chat and record updates.
func (s *Session) subscribe(ctx context.Context, gen int, roomID string, user *models.User) {
	if s.openChannel == nil {
		s.logger.Debug("realtime disabled, room will not follow updates", "room", roomID)
		return
	}

	presenceKey := ""
	if user != nil {
		presenceKey = user.ID
	}
	ch := s.openChannel(Topic(roomID), presenceKey)

	ch.OnPresenceSync(func(snapshot models.PresenceState) {
		users := snapshot.Entries()
		s.update(gen, func(st *State) { st.Users = users })
	})

	ch.OnBroadcast(messageEvent, func(payload json.RawMessage) {
		var msg models.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("dropping malformed message", "error", err)
			return
		}
		s.update(gen, func(st *State) { st.Messages = append(st.Messages, msg) })
	})

	filter := models.ChangeFilter{Event: "UPDATE", Schema: "public", Table: "room", Filter: "id=eq." + roomID}
	ch.OnPostgresChange(filter, func(c models.Change) {
		s.onRoomChange(ctx, gen, roomID, c)
	})

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.channel = ch
	s.mu.Unlock()

	err := ch.Subscribe(ctx, func(status models.ChannelStatus, err error) {
		s.logger.Debug("room channel status", "room", roomID, "status", status, "error", err)
		s.update(gen, func(st *State) { st.Subscribed = status == models.ChannelSubscribed })
		if status == models.ChannelSubscribed {
			go s.track(ctx, gen, ch, roomID, user)
		}
	})
	if err != nil {
		s.logger.Error("failed to subscribe to room channel", "room", roomID, "error", err)
	}
}

// track announces this kiosk on the channel. Guests are not tracked.
func (s *Session) track(ctx context.Context, gen int, ch Channel, roomID string, user *models.User) {
	if user == nil {
		s.logger.Debug("no signed-in user, skipping presence", "room", roomID)
		return
	}
	s.mu.Lock()
	current := gen == s.generation
	s.mu.Unlock()
	if !current {
		return
	}

	p := models.NewPresence(user.ID, user.Name(), roomID, s.now())
	if err := ch.Track(ctx, p); err != nil {
		s.logger.Warn("failed to track presence", "room", roomID, "error", err)
	}
}

// onRoomChange applies a pushed record update for the mounted room.
func (s *Session) onRoomChange(ctx context.Context, gen int, roomID string, c models.Change) {
	var rec models.Room
	if err := json.Unmarshal(c.Record, &rec); err != nil {
		s.logger.Warn("dropping malformed room update", "error", err)
		return
	}
	if rec.ID.String() != roomID {
		return
	}

	var previous models.ID
	applied := s.update(gen, func(st *State) {
		if st.Room != nil {
			previous = st.Room.EventConnection
		}
		s.applyRoom(st, &rec)
	})
	if applied {
		s.logger.Debug("room updated", "room", roomID)
		s.resolveEvent(ctx, gen, previous, rec.EventConnection, false)
	}
}

// Close unsubscribes the channel, stops the pomodoro and clears the state.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	s.generation++
	ch := s.channel
	s.channel = nil
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	if s.roomCancel != nil {
		s.roomCancel()
		s.roomCancel = nil
	}
	id := s.state.RoomID
	s.state = State{}
	s.user = nil
	s.mu.Unlock()

	if ch != nil {
		if err := ch.Unsubscribe(ctx); err != nil {
			s.logger.Warn("failed to leave room channel", "room", id, "error", err)
		}
	}
	if id != "" {
		s.logger.Info("room closed", "room", id)
		s.publish()
	}
}

// Authenticate checks password against the room's password.
//
// A room without a password always succeeds. A mismatch revokes any earlier authentication.
func (s *Session) Authenticate(password string) bool {
	s.mu.Lock()
	if s.state.Room == nil || !s.state.RequiresPassword {
		s.mu.Unlock()
		return true
	}
	ok := password == s.state.Room.Password
	if ok {
		s.state.IsAuthenticated = true
		s.state.Error = ""
	} else {
		s.state.IsAuthenticated = false
		s.state.Error = MsgIncorrectPass
	}
	id := s.state.RoomID
	s.mu.Unlock()

	s.logger.Info("room authentication", "room", id, "ok", ok)
	s.publish()
	return ok
}

// ExtendExpiration sets the room to expire hours from now. Only admins may extend.
//
// Local state is updated as soon as the store accepts the change.
func (s *Session) ExtendExpiration(ctx context.Context, hours int) error {
	s.mu.Lock()
	gen, id, room, admin := s.generation, s.state.RoomID, s.state.Room, s.state.IsAdmin
	s.mu.Unlock()

	switch {
	case room == nil:
		return ErrNoRoom
	case !admin:
		return ErrNotAdmin
	case hours <= 0:
		return fmt.Errorf("%w: hours must be positive", shared.ErrInvalidArgument)
	}

	exp := s.now().Add(time.Duration(hours) * time.Hour)
	if err := s.store.UpdateRoom(ctx, id, models.RoomPatch{ExpirationDate: &exp}); err != nil {
		s.logger.Error("failed to extend room", "room", id, "error", err)
		return fmt.Errorf("failed to extend room %s: %w", id, err)
	}

	s.update(gen, func(st *State) {
		if st.Room == nil {
			return
		}
		rec := *st.Room
		rec.ExpirationDate = &models.Timestamp{Time: exp}
		s.applyRoom(st, &rec)
	})
	s.logger.Info("room extended", "room", id, "hours", hours, "expires", exp)
	return nil
}

// SendMessage broadcasts a chat message and appends it locally, since the channel does not echo.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	if content == "" {
		return fmt.Errorf("%w: empty message", shared.ErrInvalidInput)
	}

	s.mu.Lock()
	gen, ch, user := s.generation, s.channel, s.user
	s.mu.Unlock()
	if ch == nil {
		return ErrNoRoom
	}

	msg := models.Message{
		ID:        models.ID(shared.GenerateID()),
		Content:   content,
		CreatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	if user != nil {
		msg.UserID = user.ID
	}

	if err := ch.Send(ctx, messageEvent, msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	s.update(gen, func(st *State) { st.Messages = append(st.Messages, msg) })
	return nil
}

// Files lists the files uploaded to the room, without folder placeholders.
func (s *Session) Files(ctx context.Context) ([]models.StorageObject, error) {
	s.mu.Lock()
	id := s.state.RoomID
	s.mu.Unlock()
	if id == "" {
		return nil, ErrNoRoom
	}

	objs, err := s.store.ListObjects(ctx, FilesBucket, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list room files: %w", err)
	}
	return slices.DeleteFunc(objs, models.StorageObject.IsFolder), nil
}
