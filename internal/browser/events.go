package browser

import (
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"

	"github.com/desertthunder/mesakiosk/internal/tabs"
)

// translate maps a page-domain CDP event to a surface event. Sub-frame activity is ignored.
func translate(ev any, mainFrame cdp.FrameID) *tabs.Event {
	switch e := ev.(type) {
	case *page.EventFrameStartedLoading:
		if e.FrameID == mainFrame {
			return &tabs.Event{Kind: tabs.NavigationStarted}
		}
	case *page.EventLoadEventFired:
		return &tabs.Event{Kind: tabs.NavigationSettled}
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			return &tabs.Event{Kind: tabs.Navigated, URL: e.Frame.URL + e.Frame.URLFragment}
		}
	case *page.EventNavigatedWithinDocument:
		if e.FrameID == mainFrame {
			return &tabs.Event{Kind: tabs.Navigated, URL: e.URL}
		}
	case *page.EventWindowOpen:
		return &tabs.Event{Kind: tabs.PopupRequested, URL: e.URL}
	}
	return nil
}

// pageTitle extracts a real title from a target info update for self.
//
// Chrome reports the url as the title of an untitled page; that is treated as no title.
func pageTitle(ev *target.EventTargetInfoChanged, self target.ID) (string, bool) {
	info := ev.TargetInfo
	if info == nil || info.TargetID != self || info.Type != "page" {
		return "", false
	}
	title := strings.TrimSpace(info.Title)
	if title == "" || title == info.URL || strings.TrimPrefix(info.URL, "https://") == title {
		return "", false
	}
	return title, true
}

// isPopupOf reports whether a newly created target was opened by self.
func isPopupOf(ev *target.EventTargetCreated, self target.ID) bool {
	info := ev.TargetInfo
	return info != nil && info.Type == "page" && info.OpenerID == self
}
