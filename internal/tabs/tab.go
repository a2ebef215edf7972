package tabs

import (
	"context"
	"errors"
	"strings"
)

// LoadingTitle is shown until a surface reports a real title.
const LoadingTitle = "Loading…"

// NewTabTitle is the title of a dashboard tab.
const NewTabTitle = "New Tab"

var ErrTabNotFound = errors.New("tab not found")

// State is the lifecycle state of a [Tab].
type State int

const (
	NewTabPage State = iota
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case NewTabPage:
		return "new-tab-page"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Tab is a snapshot of one kiosk tab.
type Tab struct {
	ID           string
	URL          string
	InputURL     string
	Title        string
	IsLoading    bool
	IsNewTabPage bool
}

// State derives the lifecycle state from the flags.
func (t Tab) State() State {
	switch {
	case t.IsNewTabPage:
		return NewTabPage
	case t.IsLoading:
		return Loading
	default:
		return Loaded
	}
}

// acceptTitle rejects empty titles and the loading sentinel.
func acceptTitle(title string) bool {
	return title != "" && title != LoadingTitle
}

// acceptURL rejects non-web URLs such as about:blank.
func acceptURL(u string) bool {
	return strings.HasPrefix(u, "http")
}

// EventKind enumerates the surface events a tab reacts to.
type EventKind int

const (
	NavigationStarted EventKind = iota
	NavigationSettled
	Navigated
	TitleUpdated
	PopupRequested
	WillNavigate
)

func (k EventKind) String() string {
	switch k {
	case NavigationStarted:
		return "navigation-start"
	case NavigationSettled:
		return "navigation-settle"
	case Navigated:
		return "navigated"
	case TitleUpdated:
		return "title-updated"
	case PopupRequested:
		return "new-popup-requested"
	case WillNavigate:
		return "will-navigate"
	default:
		return "unknown"
	}
}

// Event is emitted by a [Surface]. Only [WillNavigate] and [PopupRequested] honour Prevent.
type Event struct {
	Kind  EventKind
	URL   string
	Title string

	prevented bool
}

// Prevent suppresses the navigation the event announces.
func (e *Event) Prevent() { e.prevented = true }

// Prevented reports whether a listener called Prevent.
func (e *Event) Prevented() bool { return e.prevented }

// Listener receives surface events in emission order.
type Listener func(*Event)

// Surface is an embedded browsing context owned by one tab.
//
// Listen must not invoke the listener synchronously. Event delivery is best effort.
type Surface interface {
	Load(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Listen(fn Listener) (cancel func())
	Close() error
}

// SurfaceFactory creates the surface for a tab the first time it leaves the dashboard.
type SurfaceFactory func(ctx context.Context, tabID string) (Surface, error)

// Opener hands a URL to the system browser.
type Opener interface {
	Open(url string)
}

// OpenerFunc adapts a function to [Opener].
type OpenerFunc func(url string)

func (f OpenerFunc) Open(url string) { f(url) }
