// Package browser hosts kiosk tabs in a Chrome instance driven over the DevTools protocol.
//
// One [Browser] owns the Chrome process; each tab gets a [Surface] backed by its own page target.
// Surfaces translate CDP events into [tabs.Event] values and implement will-navigate by pausing
// main-frame document requests with the Fetch domain until listeners have decided.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/desertthunder/mesakiosk/internal/shared"
	"github.com/desertthunder/mesakiosk/internal/tabs"
)

var (
	ErrBrowserClosed = errors.New("browser closed")
	ErrSurfaceClosed = errors.New("surface closed")
)

// Options configures the Chrome process.
type Options struct {
	ChromePath  string
	Headless    bool
	Kiosk       bool
	UserDataDir string
	Logger      *log.Logger
}

// FromConfig maps the [shared.BrowserConfig] section onto [Options].
func FromConfig(c shared.BrowserConfig, logger *log.Logger) Options {
	return Options{
		ChromePath:  c.ChromePath,
		Headless:    c.Headless,
		Kiosk:       c.Kiosk,
		UserDataDir: c.UserDataDir,
		Logger:      logger,
	}
}

// allocatorOptions builds the exec allocator flags for opts.
func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-popup-blocking", false),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if opts.Kiosk && !opts.Headless {
		out = append(out, chromedp.Flag("kiosk", true))
	}
	if opts.ChromePath != "" {
		out = append(out, chromedp.ExecPath(opts.ChromePath))
	}
	if opts.UserDataDir != "" {
		out = append(out, chromedp.UserDataDir(opts.UserDataDir))
	}
	return out
}

// Browser owns the Chrome process and the browser-level CDP connection.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *log.Logger

	mu       sync.Mutex
	closed   bool
	surfaces map[*Surface]struct{}
}

// New starts Chrome and connects to it. The process lives until [Browser.Close] or ctx is done.
func New(ctx context.Context, opts Options) (*Browser, error) {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	logger := shared.WithLogger(opts.Logger, "component", "browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	bctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Debugf),
		chromedp.WithErrorf(logger.Errorf),
	)

	if err := chromedp.Run(bctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	logger.Info("chrome started", "headless", opts.Headless, "kiosk", opts.Kiosk)
	return &Browser{
		ctx:         bctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
		surfaces:    make(map[*Surface]struct{}),
	}, nil
}

// Factory adapts [Browser.NewSurface] to [tabs.SurfaceFactory].
func (b *Browser) Factory() tabs.SurfaceFactory {
	return func(ctx context.Context, tabID string) (tabs.Surface, error) {
		return b.NewSurface(ctx, tabID)
	}
}

// NewSurface opens a blank page target for tabID with navigation interception enabled.
func (b *Browser) NewSurface(ctx context.Context, tabID string) (*Surface, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrowserClosed
	}
	b.mu.Unlock()

	sctx, cancel := chromedp.NewContext(b.ctx)
	s := &Surface{
		ctx:    sctx,
		cancel: cancel,
		tabID:  tabID,
		logger: shared.WithLogger(b.logger, "tab", tabID),
		events: newDispatcher(),
		popups: b.closeTarget,
	}

	if err := s.start(ctx); err != nil {
		s.events.stop()
		cancel()
		return nil, err
	}

	b.mu.Lock()
	b.surfaces[s] = struct{}{}
	b.mu.Unlock()
	s.release = func() {
		b.mu.Lock()
		delete(b.surfaces, s)
		b.mu.Unlock()
	}
	return s, nil
}

// closeTarget closes a page target through the browser connection.
func (b *Browser) closeTarget(id target.ID) {
	c := chromedp.FromContext(b.ctx)
	if c == nil || c.Browser == nil {
		return
	}
	if err := target.CloseTarget(id).Do(cdp.WithExecutor(b.ctx, c.Browser)); err != nil {
		b.logger.Debug("close popup target failed", "target", id, "error", err)
	}
}

// Close closes every surface and stops Chrome.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	surfaces := make([]*Surface, 0, len(b.surfaces))
	for s := range b.surfaces {
		surfaces = append(surfaces, s)
	}
	b.mu.Unlock()

	for _, s := range surfaces {
		s.Close()
	}

	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to stop chrome: %w", err)
	}
	b.logger.Info("chrome stopped")
	return nil
}
