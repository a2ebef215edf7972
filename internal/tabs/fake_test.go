package tabs

import (
	"context"
	"io"
	"sync"

	"github.com/desertthunder/mesakiosk/internal/navigation"
	"github.com/desertthunder/mesakiosk/internal/shared"
)

// fakeSurface records calls and lets tests emit events synchronously.
type fakeSurface struct {
	mu        sync.Mutex
	id        string
	url       string
	title     string
	loads     []string
	reloads   int
	backs     int
	forwards  int
	closed    bool
	loadErr   error
	reloadErr error
	closeErr  error
	listeners map[int]Listener
	nextL     int
}

func (f *fakeSurface) Load(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
	return f.loadErr
}

func (f *fakeSurface) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.reloadErr
}

func (f *fakeSurface) GoBack(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backs++
	return nil
}

func (f *fakeSurface) GoForward(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards++
	return nil
}

func (f *fakeSurface) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeSurface) Title(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title, nil
}

func (f *fakeSurface) Listen(fn Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listeners == nil {
		f.listeners = make(map[int]Listener)
	}
	key := f.nextL
	f.nextL++
	f.listeners[key] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, key)
	}
}

func (f *fakeSurface) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeSurface) set(url, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url, f.title = url, title
}

// emit delivers ev to every registered listener and returns it so tests can inspect Prevented.
func (f *fakeSurface) emit(ev *Event) *Event {
	f.mu.Lock()
	ls := make([]Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()

	for _, l := range ls {
		l(ev)
	}
	return ev
}

func (f *fakeSurface) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// fakeOpener records external opens.
type fakeOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *fakeOpener) Open(url string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
}

func (o *fakeOpener) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

type fixture struct {
	manager  *Manager
	opener   *fakeOpener
	mu       sync.Mutex
	surfaces map[string]*fakeSurface
}

func newFixture(opts ...func(*Options)) *fixture {
	f := &fixture{opener: &fakeOpener{}, surfaces: make(map[string]*fakeSurface)}
	o := Options{
		Factory: func(_ context.Context, id string) (Surface, error) {
			s := &fakeSurface{id: id}
			f.mu.Lock()
			f.surfaces[id] = s
			f.mu.Unlock()
			return s, nil
		},
		Opener:    f.opener,
		AllowList: navigation.DefaultAllowList(),
		Logger:    shared.NewLogger(io.Discard),
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.manager = NewManager(o)
	return f
}

func (f *fixture) surface(id string) *fakeSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.surfaces[id]
}
