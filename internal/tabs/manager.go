package tabs

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mesakiosk/internal/navigation"
	"github.com/desertthunder/mesakiosk/internal/shared"
)

const (
	defaultPollInterval = 2 * time.Second
	surfaceTimeout      = 3 * time.Second
)

// ChangeKind classifies a [Change] notification.
type ChangeKind int

const (
	TabCreated ChangeKind = iota
	TabUpdated
	TabClosed
	TabActivated
)

// Change notifies subscribers that the collection changed. Subscribers re-read [Manager.Tabs].
type Change struct {
	Kind  ChangeKind
	TabID string
}

// Options configures a [Manager].
type Options struct {
	Factory       SurfaceFactory
	Opener        Opener
	AllowList     navigation.AllowList
	PollInterval  time.Duration
	IconCacheSize int
	Logger        *log.Logger
}

// Manager owns the ordered tab collection, the active tab pointer and the registry of live surfaces.
//
// All state is guarded by mu; surface calls are made without holding it.
type Manager struct {
	mu       sync.Mutex
	tabs     []*Tab
	activeID string
	nextID   int
	surfaces map[string]Surface
	detach   map[string]func()

	factory      SurfaceFactory
	opener       Opener
	allow        navigation.AllowList
	pollInterval time.Duration
	icons        *IconCache
	logger       *log.Logger
	bus          *shared.Bus[Change]
}

// NewManager creates an empty [Manager]. Call [Manager.Create] to add the first tab.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Opener == nil {
		opts.Opener = shared.NewSystemOpener(opts.Logger)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	logger := shared.WithLogger(opts.Logger, "component", "tabs")

	return &Manager{
		surfaces:     make(map[string]Surface),
		detach:       make(map[string]func()),
		factory:      opts.Factory,
		opener:       opts.Opener,
		allow:        opts.AllowList,
		pollInterval: opts.PollInterval,
		icons:        NewIconCache(opts.IconCacheSize),
		logger:       logger,
		bus:          shared.NewBus[Change](64, logger),
	}
}

// Subscribe returns a channel of change notifications and its cancel func.
func (m *Manager) Subscribe() (<-chan Change, func()) {
	return m.bus.Subscribe()
}

// Tabs returns a snapshot of the collection in display order.
func (m *Manager) Tabs() []Tab {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Tab, len(m.tabs))
	for i, t := range m.tabs {
		out[i] = *t
	}
	return out
}

// Tab returns a snapshot of the tab with the given id.
func (m *Manager) Tab(id string) (Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t := m.find(id); t != nil {
		return *t, true
	}
	return Tab{}, false
}

// Active returns the active tab. ok is false only before the first tab is created.
func (m *Manager) Active() (Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t := m.find(m.activeID); t != nil {
		return *t, true
	}
	return Tab{}, false
}

// ActiveID returns the active tab id.
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Icon returns the memoised icon for a tab URL.
func (m *Manager) Icon(rawURL string) Icon {
	return m.icons.Lookup(rawURL)
}

// Create appends a tab and activates it.
//
// An empty url or asNewTabPage starts the tab on the dashboard with no surface.
// Otherwise a surface is created and loads the normalised url.
func (m *Manager) Create(ctx context.Context, rawURL string, asNewTabPage bool) Tab {
	target := shared.NormalizeURL(rawURL)

	m.mu.Lock()
	tab := m.appendTab()
	if target != "" && !asNewTabPage {
		tab.URL = target
		tab.InputURL = target
		tab.Title = LoadingTitle
		tab.IsLoading = true
		tab.IsNewTabPage = false
	}
	snapshot := *tab
	m.mu.Unlock()

	m.logger.Debug("tab created", "tab", snapshot.ID, "url", snapshot.URL)
	m.bus.Publish(Change{Kind: TabCreated, TabID: snapshot.ID})

	if !snapshot.IsNewTabPage {
		m.load(ctx, snapshot.ID, target)
	}
	return snapshot
}

// appendTab adds a dashboard tab with the next id and activates it. Callers hold mu.
func (m *Manager) appendTab() *Tab {
	m.nextID++
	tab := &Tab{
		ID:           fmt.Sprintf("tab-%d", m.nextID),
		Title:        NewTabTitle,
		IsNewTabPage: true,
	}
	m.tabs = append(m.tabs, tab)
	m.activeID = tab.ID
	return tab
}

// Close removes a tab, detaches its listeners and closes its surface.
//
// Closing the active tab activates the last remaining tab. Closing the last tab replaces it with a
// dashboard tab in the same critical section, so the collection is never observed empty.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}

	m.tabs = slices.Delete(m.tabs, idx, idx+1)
	surface, detach := m.surfaces[id], m.detach[id]
	delete(m.surfaces, id)
	delete(m.detach, id)

	var replacement string
	switch {
	case len(m.tabs) == 0:
		replacement = m.appendTab().ID
	case m.activeID == id:
		m.activeID = m.tabs[len(m.tabs)-1].ID
	}
	active := m.activeID
	m.mu.Unlock()

	if detach != nil {
		detach()
	}
	if surface != nil {
		if err := surface.Close(); err != nil {
			m.logger.Warn("surface close failed", "tab", id, "error", err)
		}
	}

	m.logger.Debug("tab closed", "tab", id, "active", active)
	m.bus.Publish(Change{Kind: TabClosed, TabID: id})
	if replacement != "" {
		m.bus.Publish(Change{Kind: TabCreated, TabID: replacement})
	}
	m.bus.Publish(Change{Kind: TabActivated, TabID: active})
	return nil
}

// CloseAll closes every surface and leaves a single dashboard tab.
func (m *Manager) CloseAll() {
	for _, t := range m.Tabs() {
		if err := m.Close(t.ID); err != nil {
			m.logger.Debug("close during shutdown", "tab", t.ID, "error", err)
		}
	}
}

// SwitchTo activates a tab. Background tabs keep running.
func (m *Manager) SwitchTo(id string) error {
	m.mu.Lock()
	if m.find(id) == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	m.activeID = id
	m.mu.Unlock()

	m.bus.Publish(Change{Kind: TabActivated, TabID: id})
	return nil
}

// SwitchBy activates the tab offset positions away from the active one, wrapping around.
func (m *Manager) SwitchBy(offset int) {
	m.mu.Lock()
	n := len(m.tabs)
	if n == 0 {
		m.mu.Unlock()
		return
	}
	idx := (m.indexOf(m.activeID) + offset%n + n) % n
	m.activeID = m.tabs[idx].ID
	id := m.activeID
	m.mu.Unlock()

	m.bus.Publish(Change{Kind: TabActivated, TabID: id})
}

// SetInput records address-bar text without navigating.
func (m *Manager) SetInput(id, text string) {
	m.patch(id, func(t *Tab) bool {
		if t.InputURL == text {
			return false
		}
		t.InputURL = text
		return true
	})
}

// Navigate normalises raw and loads it in the tab, creating the surface when the tab is on the dashboard.
//
// Surface failures are logged; only invalid input or an unknown tab are returned.
func (m *Manager) Navigate(ctx context.Context, id, raw string) error {
	target := shared.NormalizeURL(raw)
	if target == "" {
		return fmt.Errorf("%w: empty address", shared.ErrInvalidInput)
	}

	m.mu.Lock()
	tab := m.find(id)
	if tab == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	tab.URL = target
	tab.InputURL = target
	tab.Title = LoadingTitle
	tab.IsLoading = true
	tab.IsNewTabPage = false
	m.mu.Unlock()

	m.bus.Publish(Change{Kind: TabUpdated, TabID: id})
	m.load(ctx, id, target)
	return nil
}

// GoBack navigates the active tab's surface back.
func (m *Manager) GoBack(ctx context.Context) {
	m.onActiveSurface("back", func(s Surface) error { return s.GoBack(ctx) })
}

// GoForward navigates the active tab's surface forward.
func (m *Manager) GoForward(ctx context.Context) {
	m.onActiveSurface("forward", func(s Surface) error { return s.GoForward(ctx) })
}

// Reload reloads the active tab and marks it loading until the surface settles.
func (m *Manager) Reload(ctx context.Context) {
	id := m.ActiveID()
	if m.surface(id) == nil {
		return
	}
	m.patch(id, func(t *Tab) bool {
		changed := !t.IsLoading
		t.IsLoading = true
		return changed
	})
	if err := m.onActiveSurface("reload", func(s Surface) error { return s.Reload(ctx) }); err != nil {
		m.patch(id, func(t *Tab) bool {
			t.IsLoading = false
			return true
		})
	}
}

func (m *Manager) onActiveSurface(op string, fn func(Surface) error) error {
	id := m.ActiveID()
	s := m.surface(id)
	if s == nil {
		return nil
	}
	if err := fn(s); err != nil {
		m.logger.Warn("surface operation failed", "op", op, "tab", id, "error", err)
		return err
	}
	return nil
}

// load ensures the tab has a surface and asks it to load url.
func (m *Manager) load(ctx context.Context, id, url string) {
	s, err := m.ensureSurface(ctx, id)
	if err == nil {
		err = s.Load(ctx, url)
	}
	if err != nil {
		m.logger.Warn("surface load failed", "tab", id, "url", url, "error", err)
		m.patch(id, func(t *Tab) bool {
			changed := t.IsLoading
			t.IsLoading = false
			return changed
		})
	}
}

// ensureSurface returns the tab's surface, creating and wiring it on first use.
func (m *Manager) ensureSurface(ctx context.Context, id string) (Surface, error) {
	if s := m.surface(id); s != nil {
		return s, nil
	}
	if m.factory == nil {
		return nil, fmt.Errorf("%w: no surface factory", shared.ErrMissingConfig)
	}

	s, err := m.factory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create surface: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.find(id) == nil {
		m.discard(id, s)
		return nil, fmt.Errorf("%w: %s closed during creation", ErrTabNotFound, id)
	}
	if existing, ok := m.surfaces[id]; ok {
		m.discard(id, s)
		return existing, nil
	}
	m.surfaces[id] = s
	m.detach[id] = s.Listen(m.listener(id))
	return s, nil
}

// discard closes a surface that lost the race to be registered for id.
func (m *Manager) discard(id string, s Surface) {
	if err := s.Close(); err != nil {
		m.logger.Warn("surface close failed", "tab", id, "error", err)
	}
}

// Reconcile re-reads the active surface's title and url and patches the tab when they differ.
func (m *Manager) Reconcile(ctx context.Context) {
	id := m.ActiveID()
	if m.surface(id) == nil {
		return
	}
	m.reconcile(ctx, id, "", "")
}

// Run polls [Manager.Reconcile] until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, surfaceTimeout)
			m.Reconcile(pollCtx)
			cancel()
		}
	}
}

func (m *Manager) surface(id string) Surface {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surfaces[id]
}

// patch applies fn to the tab if it still exists and publishes when fn reports a change.
func (m *Manager) patch(id string, fn func(*Tab) bool) {
	m.mu.Lock()
	tab := m.find(id)
	if tab == nil {
		m.mu.Unlock()
		return
	}
	changed := fn(tab)
	m.mu.Unlock()

	if changed {
		m.bus.Publish(Change{Kind: TabUpdated, TabID: id})
	}
}

func (m *Manager) find(id string) *Tab {
	if i := m.indexOf(id); i >= 0 {
		return m.tabs[i]
	}
	return nil
}

func (m *Manager) indexOf(id string) int {
	return slices.IndexFunc(m.tabs, func(t *Tab) bool { return t.ID == id })
}
