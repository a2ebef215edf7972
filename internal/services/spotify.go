// Spotify Web API playback client
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/mesakiosk/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	defaultRequestsPerSecond = 5
	defaultRequestTimeout    = 10 * time.Second
)

var ErrNoActiveDevice = errors.New("no active device")

// TokenProvider returns a bearer token, or an empty string when nobody is signed in.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Product     string         `json:"product"` // premium, free, etc.
	Images      []SpotifyImage `json:"images"`
}

// Premium reports whether the account can control playback.
func (u SpotifyUser) Premium() bool {
	return u.Product == "premium"
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	Explicit   bool            `json:"explicit"`
	URI        string          `json:"uri"`
}

// ArtistNames joins the artist names with commas.
func (t SpotifyTrack) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyDevice is a Connect device that can play audio.
type SpotifyDevice struct {
	ID             string `json:"id"`
	IsActive       bool   `json:"is_active"`
	IsRestricted   bool   `json:"is_restricted"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	VolumePercent  *int   `json:"volume_percent"`
	SupportsVolume bool   `json:"supports_volume"`
}

// SpotifyPlaybackState is the response of GET /me/player.
type SpotifyPlaybackState struct {
	Device               SpotifyDevice `json:"device"`
	RepeatState          string        `json:"repeat_state"`
	ShuffleState         bool          `json:"shuffle_state"`
	Timestamp            int64         `json:"timestamp"`
	ProgressMS           int           `json:"progress_ms"`
	IsPlaying            bool          `json:"is_playing"`
	Item                 *SpotifyTrack `json:"item"`
	CurrentlyPlayingType string        `json:"currently_playing_type"`
}

type spotifyError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// SpotifyOptions configures a [SpotifyService].
type SpotifyOptions struct {
	BaseURL           string
	Tokens            TokenProvider
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Burst             int
	Logger            *log.Logger
}

// SpotifyService is a rate limited client for the Spotify player endpoints.
type SpotifyService struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewSpotifyService creates a client that authenticates every request through opts.Tokens.
func NewSpotifyService(opts SpotifyOptions) (*SpotifyService, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("%w: spotify token provider", shared.ErrMissingArgument)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &SpotifyService{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		tokens:     opts.Tokens,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		logger:     shared.WithLogger(opts.Logger, "component", "spotify"),
	}, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// doRequest performs an authenticated request and decodes a 200 body into result.
// It returns the status code of successful responses.
func (s *SpotifyService) doRequest(ctx context.Context, method, endpoint string, query url.Values, body, result any) (int, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, err)
	}
	if token == "" {
		return 0, shared.ErrNotAuthenticated
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	apiURL := s.baseURL + endpoint
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if result != nil {
			err := json.NewDecoder(resp.Body).Decode(result)
			if errors.Is(err, io.EOF) {
				return http.StatusNoContent, nil
			}
			if err != nil {
				return 0, fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return resp.StatusCode, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	}

	msg := resp.Status
	var apiErr spotifyError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	s.logger.Debug("request failed", "method", method, "endpoint", endpoint, "status", resp.StatusCode, "message", msg)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return 0, fmt.Errorf("%w: %s", shared.ErrNotAuthenticated, msg)
	case resp.StatusCode == http.StatusNotFound && strings.HasPrefix(endpoint, "/me/player"):
		return 0, fmt.Errorf("%w: %s", ErrNoActiveDevice, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, fmt.Errorf("%w: rate limited, retry after %ss", shared.ErrAPIRequest, resp.Header.Get("Retry-After"))
	default:
		return 0, fmt.Errorf("%w: spotify %d: %s", shared.ErrAPIRequest, resp.StatusCode, msg)
	}
}

func deviceQuery(deviceID string) url.Values {
	if deviceID == "" {
		return nil
	}
	return url.Values{"device_id": {deviceID}}
}

// PlaybackState returns what is playing. Nothing playing is nil, nil.
func (s *SpotifyService) PlaybackState(ctx context.Context) (*SpotifyPlaybackState, error) {
	var state SpotifyPlaybackState
	status, err := s.doRequest(ctx, http.MethodGet, "/me/player", nil, nil, &state)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, nil
	}
	return &state, nil
}

// Devices lists the user's available Connect devices.
func (s *SpotifyService) Devices(ctx context.Context) ([]SpotifyDevice, error) {
	var response struct {
		Devices []SpotifyDevice `json:"devices"`
	}
	if _, err := s.doRequest(ctx, http.MethodGet, "/me/player/devices", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Devices, nil
}

// Play resumes playback on deviceID, or on the active device when it is empty.
func (s *SpotifyService) Play(ctx context.Context, deviceID string) error {
	_, err := s.doRequest(ctx, http.MethodPut, "/me/player/play", deviceQuery(deviceID), nil, nil)
	return err
}

// Pause pauses playback.
func (s *SpotifyService) Pause(ctx context.Context, deviceID string) error {
	_, err := s.doRequest(ctx, http.MethodPut, "/me/player/pause", deviceQuery(deviceID), nil, nil)
	return err
}

// Next skips to the next track.
func (s *SpotifyService) Next(ctx context.Context, deviceID string) error {
	_, err := s.doRequest(ctx, http.MethodPost, "/me/player/next", deviceQuery(deviceID), nil, nil)
	return err
}

// Previous skips to the previous track.
func (s *SpotifyService) Previous(ctx context.Context, deviceID string) error {
	_, err := s.doRequest(ctx, http.MethodPost, "/me/player/previous", deviceQuery(deviceID), nil, nil)
	return err
}

// Transfer moves playback to deviceID. With play set, playback starts there.
func (s *SpotifyService) Transfer(ctx context.Context, deviceID string, play bool) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id", shared.ErrMissingArgument)
	}
	body := map[string]any{"device_ids": []string{deviceID}, "play": play}
	_, err := s.doRequest(ctx, http.MethodPut, "/me/player", nil, body, nil)
	return err
}

// CurrentUser retrieves the signed-in user's profile.
func (s *SpotifyService) CurrentUser(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if _, err := s.doRequest(ctx, http.MethodGet, "/me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
