package events

import "sync"

// Bus fans events out to subscribers over buffered channels. Publishing never
// blocks: price ticks arrive at market rate, and a stalled API websocket
// client must not be able to stall the engine. A subscriber that falls behind
// loses messages instead.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[Event]map[int]chan any
}

// NewBus returns an empty bus; topics materialize on first subscribe.
func NewBus() *Bus {
	return &Bus{topics: make(map[Event]map[int]chan any)}
}

// Subscribe returns a receive channel for e and a function that removes the
// subscription and closes the channel. buffer sizes the channel; pick it for
// the topic's rate (ticks want a deep buffer, lifecycle events do not).
// Calling the returned function more than once is safe.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.topics[e] == nil {
		b.topics[e] = make(map[int]chan any)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan any, buffer)
	b.topics[e][id] = ch

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.topics[e][id]; ok {
				delete(b.topics[e], id)
				close(sub)
			}
		})
	}
	return ch, unsub
}

// Publish delivers payload to every current subscriber of e, skipping any
// whose buffer is full.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[e] {
		select {
		case ch <- payload:
		default:
		}
	}
}
