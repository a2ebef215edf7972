package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/mesakiosk/internal/models"
	"github.com/desertthunder/mesakiosk/internal/shared"
)

func TestExpiration(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name string
		exp  *time.Time
		want ExpirationStatus
	}{
		{name: "90 minutes out", exp: at(90 * time.Minute), want: ExpiringSoon},
		{name: "one second ago", exp: at(-time.Second), want: Expired},
		{name: "three hours out", exp: at(3 * time.Hour), want: Active},
		{name: "absent", exp: nil, want: Active},
		{name: "exactly two hours", exp: at(2 * time.Hour), want: ExpiringSoon},
		{name: "exactly now", exp: at(0), want: ExpiringSoon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expiration(tt.exp, now); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestReduceAuthenticated(t *testing.T) {
	tests := []struct {
		prev, requires, want bool
	}{
		{prev: false, requires: false, want: true},
		{prev: true, requires: false, want: true},
		{prev: false, requires: true, want: false},
		{prev: true, requires: true, want: true},
	}
	for _, tt := range tests {
		if got := ReduceAuthenticated(tt.prev, tt.requires); got != tt.want {
			t.Errorf("ReduceAuthenticated(%v, %v) = %v, want %v", tt.prev, tt.requires, got, tt.want)
		}
	}
}

func TestDeriveError(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	in := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name          string
		exp           *time.Time
		requires      bool
		authenticated bool
		want          string
	}{
		{name: "expired wins over password", exp: in(-time.Minute), requires: true, want: MsgExpired},
		{name: "expiring rounds hours up", exp: in(90 * time.Minute), requires: true, want: "Room expires in 2 hours. Consider extending the session."},
		{name: "singular hour", exp: in(30 * time.Minute), want: "Room expires in 1 hour. Consider extending the session."},
		{name: "password required", exp: in(5 * time.Hour), requires: true, want: MsgPasswordRequired},
		{name: "authenticated", requires: true, authenticated: true, want: ""},
		{name: "open room", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveError(Expiration(tt.exp, now), tt.exp, now, tt.requires, tt.authenticated)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPomodoro(t *testing.T) {
	t.Run("work phase ends in a stopped break", func(t *testing.T) {
		got, finished := Pomodoro{Active: true, Time: 1}.Tick()
		want := Pomodoro{Active: false, Break: true, Time: 300}
		if got != want || !finished {
			t.Errorf("expected %+v finished, got %+v (%v)", want, got, finished)
		}
	})

	t.Run("break phase ends in a stopped work phase", func(t *testing.T) {
		got, finished := Pomodoro{Active: true, Time: 1, Break: true}.Tick()
		want := Pomodoro{Active: false, Break: false, Time: 1500}
		if got != want || !finished {
			t.Errorf("expected %+v finished, got %+v (%v)", want, got, finished)
		}
	})

	t.Run("counts down", func(t *testing.T) {
		got, finished := Pomodoro{Active: true, Time: 10}.Tick()
		if got.Time != 9 || !got.Active || finished {
			t.Errorf("unexpected %+v (%v)", got, finished)
		}
	})

	t.Run("inactive does not tick", func(t *testing.T) {
		p := Pomodoro{Time: 10}
		if got, _ := p.Tick(); got != p {
			t.Errorf("expected %+v, got %+v", p, got)
		}
	})

	t.Run("start loads the phase when empty", func(t *testing.T) {
		if got := (Pomodoro{}).Start(); got.Time != WorkSeconds || !got.Active {
			t.Errorf("unexpected %+v", got)
		}
		if got := (Pomodoro{Break: true}).Start(); got.Time != BreakSeconds {
			t.Errorf("unexpected %+v", got)
		}
		if got := (Pomodoro{Time: 42}).Start(); got.Time != 42 {
			t.Errorf("expected resume at 42, got %+v", got)
		}
	})

	t.Run("reset", func(t *testing.T) {
		got := Pomodoro{Active: true, Time: 12, Break: true}.Reset()
		if got != (Pomodoro{Break: true, Time: BreakSeconds}) {
			t.Errorf("unexpected %+v", got)
		}
	})
}

func TestShouldBlock(t *testing.T) {
	if !ShouldBlock(State{RequiresPassword: true}) {
		t.Error("expected locked room to block")
	}
	if ShouldBlock(State{RequiresPassword: true, IsAuthenticated: true}) {
		t.Error("expected authenticated room not to block")
	}
	if ShouldBlock(State{}) {
		t.Error("expected open room not to block")
	}
}

func TestNewSession(t *testing.T) {
	if _, err := NewSession(Options{}); !errors.Is(err, shared.ErrMissingConfig) {
		t.Errorf("expected ErrMissingConfig, got %v", err)
	}
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	admin := &models.User{ID: "u-admin", DisplayName: "Ada"}
	guest := &models.User{ID: "u-guest"}

	t.Run("Open", func(t *testing.T) {
		t.Run("derives state from the record", func(t *testing.T) {
			h := newHarness(t, admin)
			h.store.rooms["42"] = &models.Room{ID: "42", Name: "Study A", Admin: []string{"u-admin"}, ExpirationDate: ts(h.now.Add(5 * time.Hour))}

			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}
			st := h.session.State()
			if st.Room == nil || st.Room.Name != "Study A" {
				t.Fatalf("expected room to be loaded, got %+v", st.Room)
			}
			if !st.IsAdmin || !st.IsAuthenticated || st.RequiresPassword || st.ExpirationStatus != Active || st.Error != "" {
				t.Errorf("unexpected derived state: %+v", st)
			}
			if st.Fetching {
				t.Error("expected fetching to be cleared")
			}
		})

		t.Run("joins the room channel", func(t *testing.T) {
			h := newHarness(t, admin)
			h.store.rooms["42"] = &models.Room{ID: "42"}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}

			ch := h.channel()
			if ch.topic != "room:42" || ch.presenceKey != "u-admin" {
				t.Errorf("unexpected channel %s key %s", ch.topic, ch.presenceKey)
			}
			want := models.ChangeFilter{Event: "UPDATE", Schema: "public", Table: "room", Filter: "id=eq.42"}
			if len(ch.filters) != 1 || ch.filters[0] != want {
				t.Errorf("unexpected filters %+v", ch.filters)
			}
			if !h.session.State().Subscribed {
				t.Error("expected subscribed state")
			}

			select {
			case p := <-ch.tracked:
				presence, ok := p.(models.Presence)
				if !ok {
					t.Fatalf("expected a presence payload, got %T", p)
				}
				if presence.UserID != "u-admin" || presence.User != "Ada" || presence.RoomID != "42" || presence.OnlineAt == "" {
					t.Errorf("unexpected presence %+v", presence)
				}
			case <-time.After(time.Second):
				t.Fatal("expected presence to be tracked")
			}
		})

		t.Run("unnamed users are tracked as Guest", func(t *testing.T) {
			h := newHarness(t, guest)
			h.store.rooms["1"] = &models.Room{ID: "1"}
			if err := h.session.Open(ctx, "1"); err != nil {
				t.Fatalf("open: %v", err)
			}
			select {
			case p := <-h.channel().tracked:
				if p.(models.Presence).User != "Guest" {
					t.Errorf("expected Guest, got %+v", p)
				}
			case <-time.After(time.Second):
				t.Fatal("expected presence to be tracked")
			}
		})

		t.Run("fetch failure sets a visible error", func(t *testing.T) {
			h := newHarness(t, admin)
			h.store.roomErr = errBackend

			err := h.session.Open(ctx, "42")
			if !errors.Is(err, errBackend) {
				t.Errorf("expected backend error, got %v", err)
			}
			st := h.session.State()
			if st.Error != MsgFetchFailed || st.Fetching {
				t.Errorf("unexpected state %+v", st)
			}
			if h.channel() == nil {
				t.Error("expected channel to be opened regardless")
			}
		})

		t.Run("empty id", func(t *testing.T) {
			h := newHarness(t, admin)
			if err := h.session.Open(ctx, ""); !errors.Is(err, shared.ErrMissingArgument) {
				t.Errorf("expected ErrMissingArgument, got %v", err)
			}
		})

		t.Run("resolves the linked event", func(t *testing.T) {
			h := newHarness(t, admin)
			h.store.rooms["42"] = &models.Room{ID: "42", EventConnection: "7"}
			h.store.events["7"] = &models.Event{ID: "7", Name: "Hack Night"}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}
			if ev := h.session.State().Event; ev == nil || ev.Name != "Hack Night" {
				t.Errorf("expected event to be resolved, got %+v", ev)
			}
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		h := newHarness(t, guest)
		h.store.rooms["42"] = &models.Room{ID: "42", Password: "1234"}
		if err := h.session.Open(ctx, "42"); err != nil {
			t.Fatalf("open: %v", err)
		}

		st := h.session.State()
		if !st.RequiresPassword || st.IsAuthenticated || st.Error != MsgPasswordRequired || !ShouldBlock(st) {
			t.Fatalf("expected a locked room, got %+v", st)
		}

		if h.session.Authenticate("0000") {
			t.Error("expected wrong password to fail")
		}
		if st := h.session.State(); st.Error != "Incorrect password" || st.IsAuthenticated {
			t.Errorf("unexpected state after failure: %+v", st)
		}

		if !h.session.Authenticate("1234") {
			t.Error("expected correct password to succeed")
		}
		if st := h.session.State(); st.Error != "" || !st.IsAuthenticated || ShouldBlock(st) {
			t.Errorf("unexpected state after success: %+v", st)
		}
	})

	t.Run("Authenticate without a password", func(t *testing.T) {
		h := newHarness(t, guest)
		h.store.rooms["42"] = &models.Room{ID: "42"}
		if err := h.session.Open(ctx, "42"); err != nil {
			t.Fatalf("open: %v", err)
		}
		if !h.session.Authenticate("anything") {
			t.Error("expected open room to accept any password")
		}
	})

	t.Run("authentication is sticky across record updates", func(t *testing.T) {
		h := newHarness(t, guest)
		h.store.rooms["42"] = &models.Room{ID: "42", Name: "Before", Password: "1234"}
		if err := h.session.Open(ctx, "42"); err != nil {
			t.Fatalf("open: %v", err)
		}
		h.session.Authenticate("1234")

		h.channel().pushChange(t, models.Room{ID: "42", Name: "After", Password: "1234"})
		st := h.session.State()
		if !st.IsAuthenticated || st.Room.Name != "After" {
			t.Errorf("expected authentication to survive a push, got %+v", st)
		}

		if err := h.session.Refresh(ctx); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if !h.session.State().IsAuthenticated {
			t.Error("expected authentication to survive a refresh")
		}

		h.session.Authenticate("nope")
		h.channel().pushChange(t, models.Room{ID: "42", Password: "1234"})
		if h.session.State().IsAuthenticated {
			t.Error("expected a failed attempt to revoke authentication")
		}

		h.channel().pushChange(t, models.Room{ID: "42"})
		if st := h.session.State(); !st.IsAuthenticated || st.RequiresPassword {
			t.Errorf("expected removing the password to unlock, got %+v", st)
		}
	})

	t.Run("record updates", func(t *testing.T) {
		t.Run("recompute expiration and error", func(t *testing.T) {
			h := newHarness(t, guest)
			h.store.rooms["42"] = &models.Room{ID: "42"}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}

			h.channel().pushChange(t, models.Room{ID: "42", ExpirationDate: ts(h.now.Add(-time.Minute))})
			st := h.session.State()
			if st.ExpirationStatus != Expired || st.Error != MsgExpired {
				t.Errorf("expected expired room, got %v %q", st.ExpirationStatus, st.Error)
			}
		})

		t.Run("other rooms are ignored", func(t *testing.T) {
			h := newHarness(t, guest)
			h.store.rooms["42"] = &models.Room{ID: "42", Name: "Mine"}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}
			h.channel().pushChange(t, models.Room{ID: "43", Name: "Theirs"})
			if got := h.session.State().Room.Name; got != "Mine" {
				t.Errorf("expected foreign update to be ignored, got %s", got)
			}
		})

		t.Run("linked event follows the reference", func(t *testing.T) {
			h := newHarness(t, guest)
			h.store.rooms["42"] = &models.Room{ID: "42", EventConnection: "7"}
			h.store.events["7"] = &models.Event{ID: "7", Name: "Seven"}
			h.store.events["8"] = &models.Event{ID: "8", Name: "Eight"}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}

			h.channel().pushChange(t, models.Room{ID: "42", EventConnection: "8"})
			if ev := h.session.State().Event; ev == nil || ev.Name != "Eight" {
				t.Errorf("expected event 8, got %+v", ev)
			}

			h.channel().pushChange(t, models.Room{ID: "42"})
			if ev := h.session.State().Event; ev != nil {
				t.Errorf("expected event to be cleared, got %+v", ev)
			}
		})
	})

	t.Run("presence snapshots replace the user list", func(t *testing.T) {
		h := newHarness(t, guest)
		h.store.rooms["42"] = &models.Room{ID: "42"}
		if err := h.session.Open(ctx, "42"); err != nil {
			t.Fatalf("open: %v", err)
		}
		ch := h.channel()

		ch.presence(models.PresenceState{
			"a": {[]byte(`{"online_at":"2025-01-01T00:00:00Z","user_id":"a","user":"Ann","room_id":"42"}`)},
			"b": {[]byte(`{"online_at":"2025-01-01T00:00:00Z","user_id":"b","user":"Bo","room_id":"42"}`)},
			"c": {[]byte(`{"user_id":"c"}`)},
		})
		if got := len(h.session.State().Users); got != 2 {
			t.Fatalf("expected 2 valid users, got %d", got)
		}

		ch.presence(models.PresenceState{
			"b": {[]byte(`{"online_at":"2025-01-01T00:00:00Z","user_id":"b","user":"Bo","room_id":"42"}`)},
		})
		users := h.session.State().Users
		if len(users) != 1 || users[0].UserID != "b" {
			t.Errorf("expected snapshot to replace users, got %+v", users)
		}
	})

	t.Run("broadcast messages are appended in arrival order", func(t *testing.T) {
		h := newHarness(t, guest)
		h.store.rooms["42"] = &models.Room{ID: "42"}
		if err := h.session.Open(ctx, "42"); err != nil {
			t.Fatalf("open: %v", err)
		}
		ch := h.channel()
		ch.pushMessage(t, `{"id":1,"content":"hi","user_id":"a","created_at":"t1"}`)
		ch.pushMessage(t, `{"id":1,"content":"hi","user_id":"a","created_at":"t1","pinned":true}`)
		ch.pushMessage(t, `not json`)

		msgs := h.session.State().Messages
		if len(msgs) != 2 {
			t.Fatalf("expected duplicates to be kept and garbage dropped, got %d", len(msgs))
		}
		if msgs[1].Extra["pinned"] != true {
			t.Errorf("expected extra fields to be kept, got %+v", msgs[1].Extra)
		}
	})

	t.Run("ExtendExpiration", func(t *testing.T) {
		t.Run("non-admins are refused without a store call", func(t *testing.T) {
			h := newHarness(t, guest)
			h.store.rooms["42"] = &models.Room{ID: "42", Admin: []string{"someone-else"}}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}

			if err := h.session.ExtendExpiration(ctx, 2); !errors.Is(err, ErrNotAdmin) {
				t.Errorf("expected ErrNotAdmin, got %v", err)
			}
			if h.store.updateCount() != 0 {
				t.Error("expected no record mutation")
			}
		})

		t.Run("admins update the store and local state", func(t *testing.T) {
			h := newHarness(t, admin)
			h.store.rooms["42"] = &models.Room{ID: "42", Admin: []string{"u-admin"}, ExpirationDate: ts(h.now.Add(-time.Hour))}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}
			if h.session.State().ExpirationStatus != Expired {
				t.Fatal("expected an expired room to start with")
			}

			if err := h.session.ExtendExpiration(ctx, 3); err != nil {
				t.Fatalf("extend: %v", err)
			}
			if h.store.updateCount() != 1 {
				t.Fatalf("expected one update, got %d", h.store.updateCount())
			}
			want := h.now.Add(3 * time.Hour)
			if got := *h.store.updates[0].ExpirationDate; !got.Equal(want) {
				t.Errorf("expected %v, got %v", want, got)
			}
			st := h.session.State()
			if st.ExpirationStatus != Active || st.Error != "" || !st.Room.Expiration().Equal(want) {
				t.Errorf("expected local state to follow, got %+v", st)
			}
		})

		t.Run("store failure leaves state untouched", func(t *testing.T) {
			h := newHarness(t, admin)
			h.store.rooms["42"] = &models.Room{ID: "42", Admin: []string{"u-admin"}, ExpirationDate: ts(h.now.Add(-time.Hour))}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}
			h.store.updateErr = errBackend

			if err := h.session.ExtendExpiration(ctx, 2); !errors.Is(err, errBackend) {
				t.Errorf("expected backend error, got %v", err)
			}
			if h.session.State().ExpirationStatus != Expired {
				t.Error("expected state to be unchanged")
			}
		})

		t.Run("no room", func(t *testing.T) {
			h := newHarness(t, admin)
			if err := h.session.ExtendExpiration(ctx, 1); !errors.Is(err, ErrNoRoom) {
				t.Errorf("expected ErrNoRoom, got %v", err)
			}
		})
	})

	t.Run("SendMessage", func(t *testing.T) {
		h := newHarness(t, admin)
		if err := h.session.SendMessage(ctx, "hello"); !errors.Is(err, ErrNoRoom) {
			t.Errorf("expected ErrNoRoom before open, got %v", err)
		}

		h.store.rooms["42"] = &models.Room{ID: "42"}
		if err := h.session.Open(ctx, "42"); err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := h.session.SendMessage(ctx, "hello"); err != nil {
			t.Fatalf("send: %v", err)
		}

		ch := h.channel()
		if len(ch.sent) != 1 || ch.sent[0].event != "message" {
			t.Fatalf("unexpected sends %+v", ch.sent)
		}
		msgs := h.session.State().Messages
		if len(msgs) != 1 || msgs[0].Content != "hello" || msgs[0].UserID != "u-admin" {
			t.Errorf("expected local echo, got %+v", msgs)
		}
		if err := h.session.SendMessage(ctx, ""); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Files skips folders", func(t *testing.T) {
		h := newHarness(t, guest)
		h.store.rooms["42"] = &models.Room{ID: "42"}
		h.store.objects = []models.StorageObject{
			{Name: "slides.pdf", ID: "1"},
			{Name: "nested", ID: ""},
			{Name: "photo.png", ID: "2"},
		}
		if err := h.session.Open(ctx, "42"); err != nil {
			t.Fatalf("open: %v", err)
		}

		files, err := h.session.Files(ctx)
		if err != nil {
			t.Fatalf("files: %v", err)
		}
		if len(files) != 2 {
			t.Errorf("expected 2 files, got %+v", files)
		}
		if h.store.listed[0] != "rooms/42" {
			t.Errorf("expected rooms bucket with room prefix, got %s", h.store.listed[0])
		}
	})

	t.Run("Close tears down the channel", func(t *testing.T) {
		h := newHarness(t, guest)
		h.store.rooms["42"] = &models.Room{ID: "42"}
		if err := h.session.Open(ctx, "42"); err != nil {
			t.Fatalf("open: %v", err)
		}
		ch := h.channel()
		h.session.Close(ctx)

		if !ch.unsubscribed {
			t.Error("expected unsubscribe")
		}
		ch.pushMessage(t, `{"id":1,"content":"late"}`)
		if st := h.session.State(); st.RoomID != "" || len(st.Messages) != 0 {
			t.Errorf("expected closed session to ignore events, got %+v", st)
		}
	})

	t.Run("Switch leaves the previous room", func(t *testing.T) {
		h := newHarness(t, guest)
		h.store.rooms["1"] = &models.Room{ID: "1", Password: "pw"}
		h.store.rooms["2"] = &models.Room{ID: "2", Password: "pw"}
		if err := h.session.Open(ctx, "1"); err != nil {
			t.Fatalf("open: %v", err)
		}
		h.session.Authenticate("pw")
		first := h.channel()

		if err := h.session.Switch(ctx, "2"); err != nil {
			t.Fatalf("switch: %v", err)
		}
		if !first.unsubscribed {
			t.Error("expected the first channel to be left")
		}
		st := h.session.State()
		if st.RoomID != "2" || st.IsAuthenticated {
			t.Errorf("expected a fresh locked room, got %+v", st)
		}
		first.pushChange(t, models.Room{ID: "1", Name: "stale"})
		if h.session.State().RoomID != "2" {
			t.Error("expected stale channel events to be ignored")
		}
	})

	t.Run("pomodoro", func(t *testing.T) {
		t.Run("finishing a phase chimes and stops", func(t *testing.T) {
			h := newHarness(t, guest)
			h.store.rooms["42"] = &models.Room{ID: "42"}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}

			h.session.mu.Lock()
			h.session.state.Pomodoro = Pomodoro{Active: true, Time: 1}
			h.session.mu.Unlock()

			h.session.Tick()
			if got := h.session.State().Pomodoro; got != (Pomodoro{Break: true, Time: BreakSeconds}) {
				t.Errorf("unexpected pomodoro %+v", got)
			}
			if h.chimeCount() != 1 {
				t.Errorf("expected one chime, got %d", h.chimeCount())
			}
		})

		t.Run("ticker counts down while active", func(t *testing.T) {
			h := newHarness(t, guest)
			h.store.rooms["42"] = &models.Room{ID: "42"}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}
			if err := h.session.StartPomodoro(); err != nil {
				t.Fatalf("start: %v", err)
			}

			deadline := time.Now().Add(2 * time.Second)
			for h.session.State().Pomodoro.Time >= WorkSeconds-2 {
				if time.Now().After(deadline) {
					t.Fatal("timed out waiting for ticks")
				}
				time.Sleep(5 * time.Millisecond)
			}

			h.session.PausePomodoro()
			paused := h.session.State().Pomodoro
			time.Sleep(20 * time.Millisecond)
			if got := h.session.State().Pomodoro; got != paused || got.Active {
				t.Errorf("expected pause to stop the countdown, %+v then %+v", paused, got)
			}

			h.session.ResetPomodoro()
			if got := h.session.State().Pomodoro; got != (Pomodoro{Time: WorkSeconds}) {
				t.Errorf("unexpected reset %+v", got)
			}
		})

		t.Run("close stops the ticker", func(t *testing.T) {
			h := newHarness(t, guest)
			h.store.rooms["42"] = &models.Room{ID: "42"}
			if err := h.session.Open(ctx, "42"); err != nil {
				t.Fatalf("open: %v", err)
			}
			if err := h.session.StartPomodoro(); err != nil {
				t.Fatalf("start: %v", err)
			}
			h.session.Close(ctx)

			h.session.mu.Lock()
			running := h.session.tickCancel != nil
			h.session.mu.Unlock()
			if running {
				t.Error("expected ticker to be stopped")
			}
			if err := h.session.StartPomodoro(); !errors.Is(err, ErrNoRoom) {
				t.Errorf("expected ErrNoRoom after close, got %v", err)
			}
		})
	})

	t.Run("concurrent updates publish the latest state last", func(t *testing.T) {
		h := newHarness(t, guest)
		h.store.rooms["42"] = &models.Room{ID: "42"}
		if err := h.session.Open(ctx, "42"); err != nil {
			t.Fatalf("open: %v", err)
		}
		updates, cancel := h.session.Subscribe()
		defer cancel()

		onMessage := h.channel().broadcasts["message"]
		const n = 20
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				onMessage(json.RawMessage(fmt.Sprintf(`{"id":%d,"content":"m","user_id":"a","created_at":"t"}`, i)))
			}()
		}
		wg.Wait()

		var last State
	drain:
		for {
			select {
			case st := <-updates:
				last = st
			default:
				break drain
			}
		}
		if len(last.Messages) != n {
			t.Errorf("last snapshot has %d messages, want %d", len(last.Messages), n)
		}
	})

	t.Run("Subscribe publishes snapshots", func(t *testing.T) {
		h := newHarness(t, guest)
		updates, cancel := h.session.Subscribe()
		defer cancel()

		h.store.rooms["42"] = &models.Room{ID: "42", Name: "Seen"}
		if err := h.session.Open(ctx, "42"); err != nil {
			t.Fatalf("open: %v", err)
		}

		timeout := time.After(time.Second)
		for {
			select {
			case st := <-updates:
				if st.Room != nil && st.Room.Name == "Seen" {
					return
				}
			case <-timeout:
				t.Fatal("expected a snapshot with the loaded room")
			}
		}
	})
}
