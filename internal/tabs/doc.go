// Package tabs implements the kiosk tab collection and the per-tab lifecycle.
//
// # Lifecycle
//
// A [Tab] is in one of three states:
//   - [NewTabPage] : the built-in dashboard, no surface
//   - [Loading] : between a navigation start and its settle signal
//   - [Loaded] : settled; title and url were reconciled from the surface
//
// Surface events arrive on the surface's goroutine and are applied as last-write-wins patches.
// [Manager.Run] re-reads the active tab's surface on an interval, because surfaces do not reliably
// report in-page or programmatic navigations. The poll and the event handlers are two producers
// feeding the same state.
//
// # Navigation policy
//
// [WillNavigate] and [PopupRequested] events are checked with [navigation.Decide] against the tab's
// current url. Redirects are suppressed and handed to the [Opener]; loops are suppressed.
//
// # Collection
//
// The [Manager] keeps at least one tab once the first is created. Closing the last tab replaces it
// with a dashboard tab before the lock is released.
package tabs
