package petrel

import (
	"sync"
	"sync/atomic"

	"github.com/petrel-im/petrel/irc"
)

// BusEvent is one session event along with the id of the client it came
// from, so that a consumer driving several connections can route it.
type BusEvent struct {
	ClientID string
	Event    irc.Event
}

// Bus fans session events out to any number of subscribers. Delivery is
// best effort: a subscriber that stops draining its channel loses events
// rather than stalling the connection loop that publishes them.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		subs: map[*Subscription]struct{}{},
	}
}

// Subscribe registers a new subscriber whose channel buffers up to capacity
// events. The subscription must be closed when no longer drained.
func (b *Bus) Subscribe(capacity int) *Subscription {
	sub := &Subscription{
		bus: b,
		ch:  make(chan BusEvent, capacity),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every live subscriber without blocking.
func (b *Bus) Publish(ev BusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

// Subscription is one subscriber's handle on the bus.
type Subscription struct {
	bus     *Bus
	ch      chan BusEvent
	dropped atomic.Int64
	once    sync.Once
}

// Events yields the events published since the subscription was taken. The
// channel is closed when the subscription or the bus is closed.
func (sub *Subscription) Events() <-chan BusEvent {
	return sub.ch
}

// Dropped reports how many events were lost because the subscriber did not
// drain its channel fast enough.
func (sub *Subscription) Dropped() int64 {
	return sub.dropped.Load()
}

func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.bus.mu.Lock()
		defer sub.bus.mu.Unlock()
		if _, ok := sub.bus.subs[sub]; ok {
			delete(sub.bus.subs, sub)
			close(sub.ch)
		}
	})
}
