package browser

import (
	"sync"

	"github.com/desertthunder/mesakiosk/internal/tabs"
)

const queueDepth = 128

type queued struct {
	ev    *tabs.Event
	after func(*tabs.Event)
}

// dispatcher delivers surface events to listeners off the CDP event goroutine.
//
// chromedp invokes target listeners synchronously while reading the websocket; a listener that calls
// back into the page (title, location) would deadlock. Events are queued and drained by one goroutine
// per surface, which preserves emission order.
type dispatcher struct {
	mu        sync.Mutex
	listeners map[int]tabs.Listener
	next      int
	queue     chan queued
	done      chan struct{}
	once      sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		listeners: make(map[int]tabs.Listener),
		queue:     make(chan queued, queueDepth),
		done:      make(chan struct{}),
	}
	go d.drain()
	return d
}

func (d *dispatcher) listen(fn tabs.Listener) func() {
	d.mu.Lock()
	key := d.next
	d.next++
	d.listeners[key] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, key)
		d.mu.Unlock()
	}
}

// enqueue schedules ev for delivery; after, when set, runs once every listener has seen it.
// Events are dropped when the queue is full or the dispatcher is stopped.
func (d *dispatcher) enqueue(ev *tabs.Event, after func(*tabs.Event)) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.queue <- queued{ev: ev, after: after}:
		return true
	default:
		return false
	}
}

// dispatch delivers ev synchronously on the caller's goroutine.
func (d *dispatcher) dispatch(ev *tabs.Event) {
	d.mu.Lock()
	ls := make([]tabs.Listener, 0, len(d.listeners))
	for k := 0; k < d.next; k++ {
		if l, ok := d.listeners[k]; ok {
			ls = append(ls, l)
		}
	}
	d.mu.Unlock()

	for _, l := range ls {
		l(ev)
	}
}

func (d *dispatcher) drain() {
	for {
		select {
		case <-d.done:
			return
		case q := <-d.queue:
			d.dispatch(q.ev)
			if q.after != nil {
				q.after(q.ev)
			}
		}
	}
}

func (d *dispatcher) stop() {
	d.once.Do(func() {
		close(d.done)
		d.mu.Lock()
		clear(d.listeners)
		d.mu.Unlock()
	})
}
