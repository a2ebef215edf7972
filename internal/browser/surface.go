package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/desertthunder/mesakiosk/internal/tabs"
)

const historyGrace = 250 * time.Millisecond

// documentRequests pauses every top-level document request before it is sent.
var documentRequests = []*fetch.RequestPattern{{
	URLPattern:   "*",
	ResourceType: network.ResourceTypeDocument,
	RequestStage: fetch.RequestStageRequest,
}}

// Surface is one Chrome page target implementing [tabs.Surface].
type Surface struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tabID   string
	logger  *log.Logger
	events  *dispatcher
	release func()
	popups  func(target.ID)

	mu        sync.Mutex
	targetID  target.ID
	lastTitle string
	userNav   bool
	closed    bool
}

func (s *Surface) start(ctx context.Context) error {
	if err := chromedp.Run(s.ctx); err != nil {
		return fmt.Errorf("failed to open page target: %w", err)
	}

	c := chromedp.FromContext(s.ctx)
	s.mu.Lock()
	s.targetID = c.Target.TargetID
	s.mu.Unlock()

	chromedp.ListenTarget(s.ctx, s.onTargetEvent)
	chromedp.ListenBrowser(s.ctx, s.onBrowserEvent)

	if err := chromedp.Run(s.ctx, fetch.Enable().WithPatterns(documentRequests)); err != nil {
		return fmt.Errorf("failed to enable navigation interception: %w", err)
	}

	s.logger.Debug("surface opened", "target", s.targetID)
	return ctx.Err()
}

func (s *Surface) mainFrame() cdp.FrameID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cdp.FrameID(s.targetID)
}

// onTargetEvent runs on the CDP read loop and must not block.
func (s *Surface) onTargetEvent(ev any) {
	if e, ok := ev.(*fetch.EventRequestPaused); ok {
		go s.gate(e)
		return
	}

	out := translate(ev, s.mainFrame())
	if out == nil {
		return
	}
	switch out.Kind {
	case tabs.NavigationSettled:
		s.clearUserNav()
	case tabs.PopupRequested:
		s.events.enqueue(out, s.afterPopup)
		return
	}
	s.events.enqueue(out, nil)
}

// onBrowserEvent filters browser-level target events for this surface.
func (s *Surface) onBrowserEvent(ev any) {
	s.mu.Lock()
	self := s.targetID
	s.mu.Unlock()

	switch e := ev.(type) {
	case *target.EventTargetInfoChanged:
		title, ok := pageTitle(e, self)
		if !ok {
			return
		}
		s.mu.Lock()
		changed := title != s.lastTitle
		s.lastTitle = title
		s.mu.Unlock()
		if changed {
			s.events.enqueue(&tabs.Event{Kind: tabs.TitleUpdated, Title: title}, nil)
		}
	case *target.EventTargetCreated:
		if isPopupOf(e, self) && s.popups != nil {
			go s.popups(e.TargetInfo.TargetID)
		}
	}
}

// afterPopup loads an allowed popup in this surface; the popup target itself is always closed.
func (s *Surface) afterPopup(ev *tabs.Event) {
	if ev.Prevented() || ev.URL == "" {
		return
	}
	if err := s.Load(s.ctx, ev.URL); err != nil {
		s.logger.Warn("popup load failed", "url", ev.URL, "error", err)
	}
}

// gate holds a paused document request until listeners have seen the will-navigate event.
//
// Requests caused by [Surface.Load], history navigation, reload, sub-frames or server redirects
// continue without a decision.
func (s *Surface) gate(e *fetch.EventRequestPaused) {
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Target == nil {
		return
	}
	ctx := cdp.WithExecutor(s.ctx, c.Target)

	prevent := false
	if e.FrameID == s.mainFrame() && e.RedirectedRequestID == "" && !s.consumeUserNav() && e.Request != nil {
		ev := &tabs.Event{Kind: tabs.WillNavigate, URL: e.Request.URL}
		s.events.dispatch(ev)
		prevent = ev.Prevented()
	}

	var err error
	if prevent {
		err = fetch.FailRequest(e.RequestID, network.ErrorReasonAborted).Do(ctx)
	} else {
		err = fetch.ContinueRequest(e.RequestID).Do(ctx)
	}
	if err != nil {
		s.logger.Debug("release paused request failed", "prevented", prevent, "error", err)
	}
}

func (s *Surface) markUserNav() {
	s.mu.Lock()
	s.userNav = true
	s.mu.Unlock()
}

func (s *Surface) consumeUserNav() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.userNav
	s.userNav = false
	return was
}

func (s *Surface) clearUserNav() {
	s.mu.Lock()
	s.userNav = false
	s.mu.Unlock()
}

// Load starts a navigation and returns without waiting for the page to settle.
func (s *Surface) Load(_ context.Context, url string) error {
	if err := s.alive(); err != nil {
		return err
	}
	s.markUserNav()
	go func() {
		if err := chromedp.Run(s.ctx, chromedp.Navigate(url)); err != nil && s.alive() == nil {
			s.logger.Warn("navigation failed", "url", url, "error", err)
		}
	}()
	return nil
}

func (s *Surface) Reload(ctx context.Context) error {
	return s.history(ctx, chromedp.Reload())
}

func (s *Surface) GoBack(ctx context.Context) error {
	return s.history(ctx, chromedp.NavigateBack())
}

func (s *Surface) GoForward(ctx context.Context) error {
	return s.history(ctx, chromedp.NavigateForward())
}

// history runs a navigation action in the background; chromedp blocks until the load event, so only
// errors reported within historyGrace are returned.
func (s *Surface) history(ctx context.Context, action chromedp.Action) error {
	if err := s.alive(); err != nil {
		return err
	}
	s.markUserNav()
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(s.ctx, action) }()

	select {
	case err := <-errc:
		if err != nil {
			s.clearUserNav()
		}
		return err
	case <-time.After(historyGrace):
		return nil
	case <-ctx.Done():
		return nil
	}
}

// URL reads the page location.
func (s *Surface) URL(ctx context.Context) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Location(&out)); err != nil {
		return "", err
	}
	return out, nil
}

// Title reads document.title.
func (s *Surface) Title(ctx context.Context) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Title(&out)); err != nil {
		return "", err
	}
	return out, nil
}

// run executes actions on the page bounded by ctx.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := s.alive(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(s.ctx, actions...) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen registers fn. Events are delivered on the surface's dispatch goroutine.
func (s *Surface) Listen(fn tabs.Listener) func() {
	return s.events.listen(fn)
}

// Close stops event delivery and closes the page target.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.events.stop()
	s.cancel()
	if s.release != nil {
		s.release()
	}
	s.logger.Debug("surface closed")
	return nil
}

func (s *Surface) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSurfaceClosed
	}
	return nil
}
