package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/mesakiosk/internal/formatter"
	"github.com/desertthunder/mesakiosk/internal/services"
	"github.com/desertthunder/mesakiosk/internal/shared"
	"github.com/urfave/cli/v3"
)

// SpotifyAuth performs OAuth2 authentication flow for Spotify.
//
// Starts a local HTTP server, opens browser for user authorization, and exchanges auth code for tokens.
// The token is stored in the database.
func (r *Runner) SpotifyAuth(ctx context.Context, cmd *cli.Command) error {
	auth, err := r.spotifyAuth()
	if err != nil {
		return err
	}

	r.writePlain("Opening browser for Spotify authorization...\n")
	r.writePlain("If the browser doesn't open, check the log for the consent URL.\n")

	if _, err := auth.Authenticate(ctx); err != nil {
		return err
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Token saved to %s\n\n", r.config.Database.Path)
	r.writePlain("You can now use: mesa spotify status\n")
	return nil
}

// SpotifyLogout deletes the stored token.
func (r *Runner) SpotifyLogout(ctx context.Context, cmd *cli.Command) error {
	auth, err := r.spotifyAuth()
	if err != nil {
		return err
	}
	if err := auth.Logout(ctx); err != nil {
		return err
	}
	r.writePlain("✓ Signed out of Spotify\n")
	return nil
}

type spotifyStatus struct {
	User     *services.SpotifyUser          `json:"user"`
	Playback *services.SpotifyPlaybackState `json:"playback"`
}

// SpotifyStatus shows the account and what is playing.
func (r *Runner) SpotifyStatus(ctx context.Context, cmd *cli.Command) error {
	client, err := r.spotify(ctx)
	if err != nil {
		return err
	}

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	state, err := client.PlaybackState(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(spotifyStatus{User: user, Playback: state}, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Spotify")
	r.writePlain("Account: %s (%s)\n", user.DisplayName, user.ID)
	if !user.Premium() {
		r.writePlain("⚠ %s account: playback control requires Premium\n", user.Product)
	}

	if state == nil || state.Item == nil {
		r.writePlain("Nothing playing\n")
		return nil
	}

	icon := "⏸"
	if state.IsPlaying {
		icon = "▶"
	}
	progress := time.Duration(state.ProgressMS) * time.Millisecond
	duration := time.Duration(state.Item.DurationMS) * time.Millisecond
	r.writePlain("%s %s · %s\n", icon, state.Item.Name, state.Item.ArtistNames())
	r.writePlain("  %s / %s on %s\n", formatter.FormatDuration(progress), formatter.FormatDuration(duration), state.Device.Name)
	return nil
}

// SpotifyDevices lists Connect devices.
func (r *Runner) SpotifyDevices(ctx context.Context, cmd *cli.Command) error {
	client, err := r.spotify(ctx)
	if err != nil {
		return err
	}

	devices, err := client.Devices(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(devices, cmd.Bool("pretty"))
	}

	if len(devices) == 0 {
		r.writePlain("No devices available. Open Spotify on a device, or start the kiosk player.\n")
		return nil
	}

	r.writePlain("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		marker := " "
		if d.IsActive {
			marker = "*"
		}
		volume := "-"
		if d.VolumePercent != nil {
			volume = fmt.Sprintf("%d%%", *d.VolumePercent)
		}
		r.writePlain("%s %d. %s [%s] volume %s\n", marker, i+1, d.Name, d.Type, volume)
		r.writePlain("     ID: %s\n", d.ID)
	}
	return nil
}

// SpotifyControl sends the transport command named by the subcommand.
func (r *Runner) SpotifyControl(ctx context.Context, cmd *cli.Command) error {
	client, err := r.spotify(ctx)
	if err != nil {
		return err
	}

	var call func(context.Context, string) error
	switch cmd.Name {
	case "play":
		call = client.Play
	case "pause":
		call = client.Pause
	case "next":
		call = client.Next
	case "previous":
		call = client.Previous
	default:
		return fmt.Errorf("%w: unknown playback command %q", shared.ErrInvalidArgument, cmd.Name)
	}

	device := cmd.String("device")
	r.logger.Debug("playback command", "command", cmd.Name, "device", device)
	if err := call(ctx, device); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	r.writePlain("✓ %s\n", cmd.Name)
	return nil
}

// SpotifyTransfer moves playback to the given device.
func (r *Runner) SpotifyTransfer(ctx context.Context, cmd *cli.Command) error {
	deviceID := cmd.StringArg("device-id")
	if deviceID == "" {
		return fmt.Errorf("%w: device ID is required", shared.ErrMissingArgument)
	}

	client, err := r.spotify(ctx)
	if err != nil {
		return err
	}
	if err := client.Transfer(ctx, deviceID, cmd.Bool("play")); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	r.writePlain("✓ Playback transferred to %s\n", deviceID)
	return nil
}
