package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/mesakiosk/internal/shared"
)

const DefaultFlowTimeout = 2 * time.Minute

// FlowOptions configures [Authorize].
type FlowOptions struct {
	Config *oauth2.Config
	// Addr is the host:port the callback server binds. Ignored when Listener is set.
	Addr     string
	Listener net.Listener
	// AuthParams are appended to the consent URL.
	AuthParams []oauth2.AuthCodeOption
	// Open shows the consent URL. Defaults to [shared.OpenBrowser].
	Open func(url string) error
	// Timeout bounds the wait for the callback. Defaults to [DefaultFlowTimeout].
	Timeout time.Duration
	Logger  *log.Logger
}

// Authorize runs one authorization code flow and returns the exchanged token.
//
// When Open fails the consent URL is logged so it can be visited by hand; the flow keeps waiting.
func Authorize(ctx context.Context, opts FlowOptions) (*oauth2.Token, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: oauth config", shared.ErrMissingConfig)
	}
	if opts.Open == nil {
		opts.Open = shared.OpenBrowser
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFlowTimeout
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	logger := shared.WithLogger(opts.Logger, "component", "oauth")

	ln := opts.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", opts.Addr); err != nil {
			return nil, fmt.Errorf("failed to start callback server on %s: %w", opts.Addr, err)
		}
	}

	state := shared.GenerateState()
	handler := NewOAuthHandler(opts.Config, state, logger)

	router := NewBasicRouter()
	router.Use(Recoverer(logger), RequestLogger(logger))
	router.Handler(handler)

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := opts.Config.AuthCodeURL(state, opts.AuthParams...)
	logger.Info("waiting for authorization", "callback", ln.Addr().String())
	if err := opts.Open(authURL); err != nil {
		logger.Warn("could not open browser, visit the URL manually", "url", authURL, "error", err)
	}

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	select {
	case result := <-handler.Result():
		if err := result.Error(); err != nil {
			return nil, err
		}
		return result.Token, nil
	case err := <-serveErr:
		return nil, fmt.Errorf("callback server failed: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: no authorization callback after %s", shared.ErrTimeout, opts.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
