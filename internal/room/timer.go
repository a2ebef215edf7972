package room

import (
	"context"
	"time"
)

// StartPomodoro starts or resumes the room's study timer.
func (s *Session) StartPomodoro() error {
	s.mu.Lock()
	if s.state.RoomID == "" {
		s.mu.Unlock()
		return ErrNoRoom
	}
	s.state.Pomodoro = s.state.Pomodoro.Start()
	s.startTickerLocked()
	s.mu.Unlock()

	s.publish()
	return nil
}

// PausePomodoro stops the countdown and keeps the remaining time.
func (s *Session) PausePomodoro() {
	s.mu.Lock()
	s.state.Pomodoro = s.state.Pomodoro.Pause()
	s.stopTickerLocked()
	s.mu.Unlock()
	s.publish()
}

// ResetPomodoro stops the timer and reloads the current phase.
func (s *Session) ResetPomodoro() {
	s.mu.Lock()
	s.state.Pomodoro = s.state.Pomodoro.Reset()
	s.stopTickerLocked()
	s.mu.Unlock()
	s.publish()
}

// Tick advances the pomodoro by one second. It is driven by the session's ticker while the timer
// is active and is a no-op otherwise.
func (s *Session) Tick() {
	s.advance(context.Background())
}

// advance ticks unless scope was cancelled; cancellation happens under mu, so a stale ticker
// cannot tick after a restart.
func (s *Session) advance(scope context.Context) {
	s.mu.Lock()
	if !s.state.Pomodoro.Active || scope.Err() != nil {
		s.mu.Unlock()
		return
	}
	next, finished := s.state.Pomodoro.Tick()
	s.state.Pomodoro = next
	if !next.Active {
		s.stopTickerLocked()
	}
	s.mu.Unlock()

	s.publish()
	if finished {
		s.logger.Info("pomodoro phase finished", "break", next.Break)
		s.chime()
	}
}

// startTickerLocked runs the one-second ticker scoped to the mounted room. Callers hold mu.
func (s *Session) startTickerLocked() {
	if s.tickCancel != nil || s.roomCancel == nil {
		return
	}
	parent := s.roomCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s.tickCancel = cancel

	go func() {
		t := time.NewTicker(s.tickEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.advance(ctx)
			}
		}
	}()
}

// stopTickerLocked cancels the ticker goroutine. Callers hold mu.
func (s *Session) stopTickerLocked() {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
}
