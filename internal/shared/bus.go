package shared

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Bus fans out values to subscribers without blocking the publisher.
//
// A subscriber whose buffer is full misses the value; state owners publish notifications, and
// subscribers re-read the full snapshot, so a dropped value only delays a redraw.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[chan T]struct{}
	depth  int
	closed bool
	logger *log.Logger
}

// NewBus constructs a [Bus] whose subscriber channels buffer depth values.
func NewBus[T any](depth int, logger *log.Logger) *Bus[T] {
	if depth <= 0 {
		depth = 64
	}
	return &Bus[T]{subs: make(map[chan T]struct{}), depth: depth, logger: logger}
}

// Subscribe registers a subscriber and returns its channel and a cancel func.
//
// Cancel is idempotent and closes the channel.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, b.depth)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers v to every subscriber with buffer space.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	if dropped > 0 && b.logger != nil {
		b.logger.Debug("bus dropped notification", "subscribers", len(b.subs), "dropped", dropped)
	}
}

// Close closes every subscriber channel. Later subscribers receive a closed channel.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
