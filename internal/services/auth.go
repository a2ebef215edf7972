package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/mesakiosk/internal/server"
	"github.com/desertthunder/mesakiosk/internal/shared"
)

const (
	SpotifyProvider = "spotify"

	DefaultRedirectURI = "http://127.0.0.1:3000/callback"

	// refreshWindow is how close to expiry a token is refreshed ahead of use.
	refreshWindow = 5 * time.Minute
)

// SpotifyScopes are requested on every authorization.
var SpotifyScopes = []string{
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
	"user-read-private",
	"user-read-recently-played",
	"user-top-read",
	"playlist-read-private",
	"playlist-read-collaborative",
	"streaming",
}

// TokenStore persists tokens per provider. Load returns [shared.ErrNotFound] when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context, provider string) (*oauth2.Token, error)
	Save(ctx context.Context, provider string, tok *oauth2.Token) error
	Delete(ctx context.Context, provider string) error
}

// Authorizer runs an interactive authorization code flow for conf.
type Authorizer func(ctx context.Context, conf *oauth2.Config, params ...oauth2.AuthCodeOption) (*oauth2.Token, error)

// SpotifyAuthOptions configures a [SpotifyAuth].
type SpotifyAuthOptions struct {
	Credentials shared.SpotifyConfig
	Store       TokenStore
	// Authorize defaults to [server.Authorize] bound to the redirect URI's host and port.
	Authorize Authorizer
	// Endpoint overrides the Spotify accounts endpoints.
	Endpoint *oauth2.Endpoint
	Logger   *log.Logger
}

// SpotifyAuth is the Spotify token provider.
//
// mu is held across refreshes so concurrent callers share one refresh.
type SpotifyAuth struct {
	config    *oauth2.Config
	store     TokenStore
	authorize Authorizer
	logger    *log.Logger
	now       func() time.Time

	mu     sync.Mutex
	token  *oauth2.Token
	loaded bool
}

// NewSpotifyAuth builds the provider. Client id and secret are required.
func NewSpotifyAuth(opts SpotifyAuthOptions) (*SpotifyAuth, error) {
	creds := opts.Credentials
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret", shared.ErrMissingConfig)
	}
	if creds.RedirectURI == "" {
		creds.RedirectURI = DefaultRedirectURI
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	logger := shared.WithLogger(opts.Logger, "component", "spotify-auth")

	endpoint := oauth2.Endpoint{AuthURL: spotifyAuthURL, TokenURL: spotifyTokenURL, AuthStyle: oauth2.AuthStyleInHeader}
	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}

	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Scopes:       SpotifyScopes,
		Endpoint:     endpoint,
	}

	authorize := opts.Authorize
	if authorize == nil {
		u, err := url.Parse(creds.RedirectURI)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("%w: redirect_uri %q", shared.ErrInvalidConfig, creds.RedirectURI)
		}
		addr := u.Host
		authorize = func(ctx context.Context, conf *oauth2.Config, params ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
			return server.Authorize(ctx, server.FlowOptions{Config: conf, Addr: addr, AuthParams: params, Logger: opts.Logger})
		}
	}

	return &SpotifyAuth{
		config:    config,
		store:     opts.Store,
		authorize: authorize,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Config returns the OAuth2 configuration.
func (a *SpotifyAuth) Config() *oauth2.Config {
	return a.config
}

// Current returns a copy of the held token without refreshing it. Nil means signed out.
func (a *SpotifyAuth) Current(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.loadLocked(ctx); err != nil {
		return nil, err
	}
	if a.token == nil {
		return nil, nil
	}
	tok := *a.token
	return &tok, nil
}

// Token returns a valid access token, or "" when signed out.
//
// A token inside the refresh window is refreshed first. When the refresh fails the old token is
// returned while it is still valid; an expired token with a failed refresh is an error.
func (a *SpotifyAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.loadLocked(ctx); err != nil {
		return "", err
	}
	if a.token == nil {
		return "", nil
	}
	if a.token.Expiry.IsZero() || a.token.Expiry.After(a.now().Add(refreshWindow)) {
		return a.token.AccessToken, nil
	}

	fresh, err := a.refreshLocked(ctx)
	if err == nil {
		return fresh.AccessToken, nil
	}
	if a.token.Expiry.After(a.now()) {
		a.logger.Warn("token refresh failed, using current token", "expires", a.token.Expiry, "error", err)
		return a.token.AccessToken, nil
	}
	return "", err
}

func (a *SpotifyAuth) loadLocked(ctx context.Context) error {
	if a.loaded || a.store == nil {
		a.loaded = true
		return nil
	}
	tok, err := a.store.Load(ctx, SpotifyProvider)
	switch {
	case errors.Is(err, shared.ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to load spotify token: %w", err)
	default:
		a.token = tok
	}
	a.loaded = true
	return nil
}

func (a *SpotifyAuth) refreshLocked(ctx context.Context) (*oauth2.Token, error) {
	if a.token.RefreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	// An empty access token forces the source to use the refresh token.
	src := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: a.token.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}

	a.token = fresh
	a.persist(ctx, fresh)
	a.logger.Debug("token refreshed", "expires", fresh.Expiry)
	return fresh, nil
}

func (a *SpotifyAuth) persist(ctx context.Context, tok *oauth2.Token) {
	if a.store == nil {
		return
	}
	if err := a.store.Save(ctx, SpotifyProvider, tok); err != nil {
		a.logger.Error("failed to save token", "error", err)
	}
}

// Authenticate runs the browser flow and stores the resulting token.
func (a *SpotifyAuth) Authenticate(ctx context.Context) (string, error) {
	tok, err := a.authorize(ctx, a.config, oauth2.SetAuthURLParam("show_dialog", "true"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty token", shared.ErrAuthFailed)
	}

	a.mu.Lock()
	a.token, a.loaded = tok, true
	a.persist(ctx, tok)
	a.mu.Unlock()

	a.logger.Info("signed in to spotify")
	return tok.AccessToken, nil
}

// Logout forgets the token in memory and in the store.
func (a *SpotifyAuth) Logout(ctx context.Context) error {
	a.mu.Lock()
	a.token, a.loaded = nil, true
	a.mu.Unlock()

	if a.store == nil {
		return nil
	}
	if err := a.store.Delete(ctx, SpotifyProvider); err != nil {
		return fmt.Errorf("failed to delete spotify token: %w", err)
	}
	a.logger.Info("signed out of spotify")
	return nil
}
