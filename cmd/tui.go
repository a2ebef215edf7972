package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/mesakiosk/internal/browser"
	"github.com/desertthunder/mesakiosk/internal/navigation"
	"github.com/desertthunder/mesakiosk/internal/playback"
	"github.com/desertthunder/mesakiosk/internal/realtime"
	"github.com/desertthunder/mesakiosk/internal/repositories"
	"github.com/desertthunder/mesakiosk/internal/room"
	"github.com/desertthunder/mesakiosk/internal/shared"
	"github.com/desertthunder/mesakiosk/internal/tabs"
	"github.com/desertthunder/mesakiosk/internal/ui"
	"github.com/urfave/cli/v3"
)

// Kiosk starts Chrome, mounts the selected room and the Spotify player, and runs the terminal
// chrome until the user quits.
func (r *Runner) Kiosk(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(r.config.Log.File)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	browserOpts := browser.FromConfig(r.config.Browser, r.logger)
	if cmd.Bool("headless") {
		browserOpts.Headless = true
	}
	chrome, err := browser.New(ctx, browserOpts)
	if err != nil {
		return err
	}
	defer chrome.Close()

	manager := tabs.NewManager(tabs.Options{
		Factory:       chrome.Factory(),
		Opener:        shared.NewSystemOpener(r.logger),
		AllowList:     r.allowList(),
		PollInterval:  r.config.Kiosk.PollInterval,
		IconCacheSize: r.config.Kiosk.IconCache,
		Logger:        r.logger,
	})
	defer manager.CloseAll()
	go manager.Run(ctx)

	if db, err := r.database(); err != nil {
		r.logger.Warn("history disabled", "error", err)
	} else {
		go r.recordHistory(ctx, manager, repositories.NewHistoryRepository(db))
	}

	initial := cmd.String("url")
	if initial == "" {
		initial = r.config.Kiosk.InitialURL
	}
	manager.Create(ctx, initial, initial == "")

	opts := ui.Options{Tabs: manager}

	session, closeRoom := r.kioskRoom(ctx, cmd)
	if session != nil {
		defer closeRoom()
		opts.Room = session
	}

	if !cmd.Bool("no-playback") {
		if player := r.kioskPlayer(ctx); player != nil {
			defer player.Close()
			opts.Player = player
		}
	}

	model := ui.NewModel(ctx, opts)
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

// allowList returns the configured domains, or the built-in list when none are set.
func (r *Runner) allowList() navigation.AllowList {
	if len(r.config.Browser.AllowedDomains) == 0 {
		return navigation.DefaultAllowList()
	}
	return navigation.NewAllowList(r.config.Browser.AllowedDomains...)
}

// recordHistory writes a visit each time a tab finishes loading a page.
func (r *Runner) recordHistory(ctx context.Context, m *tabs.Manager, history *repositories.HistoryRepository) {
	changes, cancel := m.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Kind != tabs.TabUpdated {
				continue
			}
			t, found := m.Tab(c.TabID)
			if !found || t.State() != tabs.Loaded || t.URL == "" {
				continue
			}
			if _, err := history.Record(t.ID, t.URL, t.Title); err != nil {
				r.logger.Warn("failed to record visit", "url", t.URL, "error", err)
			}
		}
	}
}

// kioskRoom mounts the selected room with realtime updates. It returns nil when no room is
// selected or the backend is not configured; the kiosk still runs without a banner.
func (r *Runner) kioskRoom(ctx context.Context, cmd *cli.Command) (*room.Session, func()) {
	id := r.roomID(cmd)
	if id == "" {
		r.logger.Info("no room selected")
		return nil, nil
	}
	client, err := r.supabase()
	if err != nil {
		r.logger.Warn("room disabled", "error", err)
		return nil, nil
	}

	opts := room.Options{
		Store:    client,
		Identity: client,
		Chime:    func() { fmt.Fprint(os.Stderr, "\a") },
		Logger:   r.logger,
	}

	rt, err := realtime.New(realtime.Options{
		URL:         r.config.Supabase.URL,
		APIKey:      r.config.Supabase.AnonKey,
		AccessToken: r.config.Supabase.AccessToken,
		Logger:      r.logger,
	})
	if err != nil {
		r.logger.Warn("realtime disabled", "error", err)
	} else {
		opts.OpenChannel = func(topic, key string) room.Channel {
			return rt.Channel(topic, realtime.ChannelOptions{PresenceKey: key})
		}
	}

	session, err := room.NewSession(opts)
	if err != nil {
		r.logger.Warn("room disabled", "error", err)
		if rt != nil {
			rt.Close()
		}
		return nil, nil
	}
	if err := session.Open(ctx, id); err != nil {
		r.logger.Warn("failed to open room", "room", id, "error", err)
	}

	return session, func() {
		session.Close(context.Background())
		if rt != nil {
			rt.Close()
		}
	}
}

// kioskPlayer starts the playback poll loop. It returns nil when Spotify is not configured.
// A signed-out player still runs and reports itself as not connected.
func (r *Runner) kioskPlayer(ctx context.Context) *playback.Player {
	auth, err := r.spotifyAuth()
	if err != nil {
		r.logger.Info("playback disabled", "error", err)
		return nil
	}
	client, err := r.spotifyService(auth)
	if err != nil {
		r.logger.Warn("playback disabled", "error", err)
		return nil
	}
	player, err := playback.New(playback.Options{
		Client:       client,
		Tokens:       auth,
		PollInterval: r.config.Playback.PollInterval,
		SkipDelay:    r.config.Playback.SkipDelay,
		Logger:       r.logger,
	})
	if err != nil {
		r.logger.Warn("playback disabled", "error", err)
		return nil
	}

	go func() {
		if err := player.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("playback loop stopped", "error", err)
		}
	}()
	return player
}
