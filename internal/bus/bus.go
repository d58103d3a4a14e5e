package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus is the in-process publish/subscribe fabric connecting the gateway,
// the conversation engine, and the control API. Delivery per subscriber is
// in publish order; a subscriber that cannot keep up loses events rather
// than blocking the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	dropped atomic.Int64
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Never blocks: full subscriber channels drop the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers interest in all event kinds starting with prefix.
// An empty prefix matches everything. The returned func unsubscribes;
// after it returns no further events are delivered on the channel.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Dropped reports how many events were lost to slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
