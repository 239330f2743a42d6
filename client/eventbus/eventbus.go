// Package eventbus is a small synchronous publish/subscribe hub used by the
// client to fan realtime events out to application code.
package eventbus

import (
	"sort"
	"sync"
)

// Handler receives the payload published for an event name.
type Handler func(payload any)

// Bus routes named events to subscribed handlers. Emit calls handlers
// synchronously in subscription order; a handler must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[int]Handler)}
}

// On subscribes a handler to an event name and returns an unsubscribe func.
// Unsubscribing twice is a no-op.
func (b *Bus) On(event string, handler Handler) (off func()) {
	b.mu.Lock()
	if b.subs[event] == nil {
		b.subs[event] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[event][id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[event], id)
		b.mu.Unlock()
	}
}

// Emit publishes payload to every handler subscribed to event. Handlers
// registered or removed during delivery take effect on the next emit.
func (b *Bus) Emit(event string, payload any) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs[event]))
	for id := range b.subs[event] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[event][id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

// Len reports the number of live subscriptions for an event.
func (b *Bus) Len(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}
