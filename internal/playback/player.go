// Package playback keeps the kiosk's now-playing state in sync with Spotify.
//
// A [Player] polls the playback state while a token is available and stops polling as soon as the
// token provider reports that nobody is signed in. Control calls update isPlaying optimistically;
// skips schedule an extra poll shortly after, since the API does not push track changes.
package playback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/mesakiosk/internal/services"
	"github.com/desertthunder/mesakiosk/internal/shared"
)

// ErrSignedOut is returned by [Player.Refresh] when the token provider has no token.
var ErrSignedOut = fmt.Errorf("%w: no spotify token", shared.ErrNotAuthenticated)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultSkipDelay    = 500 * time.Millisecond
)

// Client is the subset of [services.SpotifyService] the player drives.
type Client interface {
	PlaybackState(ctx context.Context) (*services.SpotifyPlaybackState, error)
	Devices(ctx context.Context) ([]services.SpotifyDevice, error)
	Play(ctx context.Context, deviceID string) error
	Pause(ctx context.Context, deviceID string) error
	Next(ctx context.Context, deviceID string) error
	Previous(ctx context.Context, deviceID string) error
	Transfer(ctx context.Context, deviceID string, play bool) error
}

// Track is the now-playing item.
type Track struct {
	ID       string
	Name     string
	Artists  string
	Album    string
	ImageURL string
	Duration time.Duration
}

// State is a snapshot of the player.
type State struct {
	Authenticated bool
	Track         *Track
	Progress      time.Duration
	IsPlaying     bool
	// ActiveDevice is the device the API last reported as playing.
	ActiveDevice *services.SpotifyDevice
	Devices      []services.SpotifyDevice
	// LocalDeviceID is set when an embedded web player registers itself.
	LocalDeviceID string
	UpdatedAt     time.Time
}

// TargetDevice is the device control calls address: the local player when one is registered,
// otherwise the active device from the last poll or the device list. Empty lets the API pick.
func (s State) TargetDevice() string {
	if s.LocalDeviceID != "" {
		return s.LocalDeviceID
	}
	if s.ActiveDevice != nil && s.ActiveDevice.IsActive {
		return s.ActiveDevice.ID
	}
	if d := activeIn(s.Devices); d != nil {
		return d.ID
	}
	return ""
}

func activeIn(devices []services.SpotifyDevice) *services.SpotifyDevice {
	for i := range devices {
		if devices[i].IsActive && devices[i].ID != "" {
			d := devices[i]
			return &d
		}
	}
	return nil
}

// Options configures a [Player].
type Options struct {
	Client       Client
	Tokens       services.TokenProvider
	PollInterval time.Duration
	SkipDelay    time.Duration
	Logger       *log.Logger
}

// Player owns the playback state. All fields below mu are guarded by it; client calls are made
// without holding it.
type Player struct {
	client       Client
	tokens       services.TokenProvider
	pollInterval time.Duration
	skipDelay    time.Duration
	logger       *log.Logger
	bus          *shared.Bus[State]
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	state State
}

// New creates a player. Client and Tokens are required.
func New(opts Options) (*Player, error) {
	if opts.Client == nil || opts.Tokens == nil {
		return nil, fmt.Errorf("%w: playback client and token provider", shared.ErrMissingArgument)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SkipDelay <= 0 {
		opts.SkipDelay = DefaultSkipDelay
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	logger := shared.WithLogger(opts.Logger, "component", "playback")

	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		client:       opts.Client,
		tokens:       opts.Tokens,
		pollInterval: opts.PollInterval,
		skipDelay:    opts.SkipDelay,
		logger:       logger,
		bus:          shared.NewBus[State](16, logger),
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// State returns a snapshot.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Player) snapshotLocked() State {
	s := p.state
	s.Devices = slices.Clone(p.state.Devices)
	if s.Track != nil {
		t := *s.Track
		s.Track = &t
	}
	if s.ActiveDevice != nil {
		d := *s.ActiveDevice
		s.ActiveDevice = &d
	}
	return s
}

// Subscribe returns a channel of state snapshots and its cancel func.
func (p *Player) Subscribe() (<-chan State, func()) {
	return p.bus.Subscribe()
}

// update applies fn under the lock and publishes the result.
func (p *Player) update(fn func(*State)) {
	p.mu.Lock()
	fn(&p.state)
	p.state.UpdatedAt = p.now()
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.bus.Publish(snap)
}

// signedIn reports whether a token is available and records the result in the state.
func (p *Player) signedIn(ctx context.Context) bool {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		p.logger.Warn("token unavailable", "error", err)
	}
	ok := err == nil && token != ""

	p.mu.Lock()
	changed := p.state.Authenticated != ok
	p.mu.Unlock()
	if changed {
		p.update(func(s *State) {
			s.Authenticated = ok
			if !ok {
				s.Track, s.IsPlaying, s.Progress, s.ActiveDevice = nil, false, 0, nil
			}
		})
	}
	return ok
}

// Refresh polls the playback state once. On failure the prior state is kept.
func (p *Player) Refresh(ctx context.Context) error {
	if !p.signedIn(ctx) {
		return ErrSignedOut
	}

	resp, err := p.client.PlaybackState(ctx)
	if err != nil {
		p.logger.Warn("playback poll failed", "error", err)
		return err
	}

	p.update(func(s *State) {
		if resp == nil {
			s.Track, s.IsPlaying, s.Progress = nil, false, 0
			return
		}
		s.IsPlaying = resp.IsPlaying
		s.Progress = time.Duration(resp.ProgressMS) * time.Millisecond
		device := resp.Device
		s.ActiveDevice = &device
		s.Track = toTrack(resp.Item)
	})
	return nil
}

func toTrack(item *services.SpotifyTrack) *Track {
	if item == nil {
		return nil
	}
	t := &Track{
		ID:       item.ID,
		Name:     item.Name,
		Artists:  item.ArtistNames(),
		Album:    item.Album.Name,
		Duration: time.Duration(item.DurationMS) * time.Millisecond,
	}
	if len(item.Album.Images) > 0 {
		t.ImageURL = item.Album.Images[0].URL
	}
	return t
}

// Run polls until ctx is done or the token goes away. The first poll is immediate.
func (p *Player) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if err := p.Refresh(ctx); errors.Is(err, ErrSignedOut) {
			p.logger.Info("playback polling stopped, not signed in")
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RegisterLocalDevice records the embedded player's device id. Empty clears it.
func (p *Player) RegisterLocalDevice(id string) {
	p.update(func(s *State) { s.LocalDeviceID = id })
	p.logger.Debug("local device registered", "device", id)
}

// RefreshDevices lists the available devices and stores them in the state. A device the
// provider marks active becomes the active device.
func (p *Player) RefreshDevices(ctx context.Context) ([]services.SpotifyDevice, error) {
	devices, err := p.client.Devices(ctx)
	if err != nil {
		p.logger.Warn("device list failed", "error", err)
		return nil, err
	}
	p.update(func(s *State) {
		s.Devices = slices.Clone(devices)
		if d := activeIn(devices); d != nil {
			s.ActiveDevice = d
		}
	})
	return slices.Clone(devices), nil
}

// SelectDevice transfers playback to id, keeping the current playing flag.
func (p *Player) SelectDevice(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: device id", shared.ErrMissingArgument)
	}
	playing := p.State().IsPlaying

	if err := p.client.Transfer(ctx, id, playing); err != nil {
		p.logger.Warn("transfer failed", "device", id, "error", err)
		return err
	}

	p.update(func(s *State) {
		for i := range s.Devices {
			s.Devices[i].IsActive = s.Devices[i].ID == id
			if s.Devices[i].ID == id {
				d := s.Devices[i]
				s.ActiveDevice = &d
			}
		}
		if s.ActiveDevice == nil || s.ActiveDevice.ID != id {
			s.ActiveDevice = &services.SpotifyDevice{ID: id, IsActive: true}
		}
	})
	p.repollLater()
	return nil
}

// Play resumes playback on the target device.
func (p *Player) Play(ctx context.Context) error {
	return p.control(ctx, "play", p.client.Play, func(s *State) { s.IsPlaying = true })
}

// Pause pauses playback.
func (p *Player) Pause(ctx context.Context) error {
	return p.control(ctx, "pause", p.client.Pause, func(s *State) { s.IsPlaying = false })
}

// Toggle pauses when playing and plays otherwise.
func (p *Player) Toggle(ctx context.Context) error {
	if p.State().IsPlaying {
		return p.Pause(ctx)
	}
	return p.Play(ctx)
}

// Next skips forward and re-polls after the skip delay.
func (p *Player) Next(ctx context.Context) error {
	if err := p.control(ctx, "next", p.client.Next, nil); err != nil {
		return err
	}
	p.repollLater()
	return nil
}

// Previous skips back and re-polls after the skip delay.
func (p *Player) Previous(ctx context.Context) error {
	if err := p.control(ctx, "previous", p.client.Previous, nil); err != nil {
		return err
	}
	p.repollLater()
	return nil
}

func (p *Player) control(ctx context.Context, op string, call func(context.Context, string) error, apply func(*State)) error {
	device := p.State().TargetDevice()
	if err := call(ctx, device); err != nil {
		p.logger.Warn("playback control failed", "op", op, "device", device, "error", err)
		return err
	}
	if apply != nil {
		p.update(apply)
	}
	return nil
}

func (p *Player) repollLater() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTimer(p.skipDelay)
		defer t.Stop()
		select {
		case <-p.ctx.Done():
			return
		case <-t.C:
		}
		_ = p.Refresh(p.ctx)
	}()
}

// Close stops pending re-polls and any Run loop, and closes subscriber channels.
func (p *Player) Close() {
	p.cancel()
	p.wg.Wait()
	p.bus.Close()
}
