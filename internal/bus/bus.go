// Package bus provides the in-process named-event fan-out used between the
// stream engine, the trader and the outbound publishers.
package bus

import "sync"

// Handler receives the payload passed to Emit.
type Handler func(payload interface{})

// Bus is a minimal synchronous publish/subscribe hub. Emit invokes handlers
// inline in registration order; long-running consumers hand off to their own
// goroutines.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// On registers a handler for the named event.
func (b *Bus) On(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit calls every handler registered for name, synchronously, in the order
// they were registered. Unknown names are a no-op.
func (b *Bus) Emit(name string, payload interface{}) {
	b.mu.RLock()
	registered := b.handlers[name]
	handlers := make([]Handler, len(registered))
	copy(handlers, registered)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}
