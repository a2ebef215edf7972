package room

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/mesakiosk/internal/models"
	"github.com/desertthunder/mesakiosk/internal/shared"
)

var errBackend = errors.New("backend unavailable")

type fakeStore struct {
	mu        sync.Mutex
	rooms     map[string]*models.Room
	events    map[string]*models.Event
	objects   []models.StorageObject
	roomErr   error
	updateErr error
	updates   []models.RoomPatch
	listed    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{rooms: map[string]*models.Room{}, events: map[string]*models.Event{}}
}

func (f *fakeStore) Room(_ context.Context, id string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roomErr != nil {
		return nil, f.roomErr
	}
	r, ok := f.rooms[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) UpdateRoom(_ context.Context, id string, patch models.RoomPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, patch)
	return nil
}

func (f *fakeStore) Event(_ context.Context, id string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return ev, nil
}

func (f *fakeStore) ListObjects(_ context.Context, bucket, prefix string) ([]models.StorageObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, bucket+"/"+prefix)
	return append([]models.StorageObject(nil), f.objects...), nil
}

func (f *fakeStore) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeIdentity struct {
	user *models.User
	err  error
}

func (f fakeIdentity) CurrentUser(context.Context) (*models.User, error) {
	return f.user, f.err
}

type sent struct {
	event   string
	payload any
}

// fakeChannel captures handlers so tests can push presence, broadcasts and changes.
type fakeChannel struct {
	mu           sync.Mutex
	topic        string
	presenceKey  string
	presence     func(models.PresenceState)
	broadcasts   map[string]func(json.RawMessage)
	filters      []models.ChangeFilter
	changes      []func(models.Change)
	status       func(models.ChannelStatus, error)
	tracked      chan any
	sent         []sent
	unsubscribed bool
}

func newFakeChannel(topic, key string) *fakeChannel {
	return &fakeChannel{topic: topic, presenceKey: key, broadcasts: map[string]func(json.RawMessage){}, tracked: make(chan any, 4)}
}

func (c *fakeChannel) OnPresenceSync(fn func(models.PresenceState)) { c.presence = fn }

func (c *fakeChannel) OnBroadcast(event string, fn func(json.RawMessage)) { c.broadcasts[event] = fn }

func (c *fakeChannel) OnPostgresChange(filter models.ChangeFilter, fn func(models.Change)) {
	c.filters = append(c.filters, filter)
	c.changes = append(c.changes, fn)
}

func (c *fakeChannel) Subscribe(_ context.Context, fn func(models.ChannelStatus, error)) error {
	c.mu.Lock()
	c.status = fn
	c.mu.Unlock()
	fn(models.ChannelSubscribed, nil)
	return nil
}

func (c *fakeChannel) Track(_ context.Context, payload any) error {
	c.tracked <- payload
	return nil
}

func (c *fakeChannel) Send(_ context.Context, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{event, payload})
	return nil
}

func (c *fakeChannel) Unsubscribe(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = true
	return nil
}

func (c *fakeChannel) pushChange(t *testing.T, rec models.Room) {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal room: %v", err)
	}
	change := models.Change{Type: "UPDATE", Schema: "public", Table: "room", Record: b}
	for i, fn := range c.changes {
		if c.filters[i].Matches(change) {
			fn(change)
		}
	}
}

func (c *fakeChannel) pushMessage(t *testing.T, raw string) {
	t.Helper()
	c.broadcasts["message"](json.RawMessage(raw))
}

type harness struct {
	session  *Session
	store    *fakeStore
	now      time.Time
	mu       sync.Mutex
	channels []*fakeChannel
	chimes   int
}

func newHarness(t *testing.T, user *models.User) *harness {
	t.Helper()
	h := &harness{store: newFakeStore(), now: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
	s, err := NewSession(Options{
		Store:    h.store,
		Identity: fakeIdentity{user: user},
		OpenChannel: func(topic, key string) Channel {
			c := newFakeChannel(topic, key)
			h.mu.Lock()
			h.channels = append(h.channels, c)
			h.mu.Unlock()
			return c
		},
		Chime: func() {
			h.mu.Lock()
			h.chimes++
			h.mu.Unlock()
		},
		Logger:    shared.NewLogger(io.Discard),
		Now:       func() time.Time { return h.now },
		TickEvery: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h.session = s
	t.Cleanup(func() { s.Close(context.Background()) })
	return h
}

func (h *harness) channel() *fakeChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.channels) == 0 {
		return nil
	}
	return h.channels[len(h.channels)-1]
}

func (h *harness) chimeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.chimes
}

func ts(t time.Time) *models.Timestamp {
	return &models.Timestamp{Time: t}
}
