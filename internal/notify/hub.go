// Package notify carries the "data changed" signal emitted after every
// committed mutation to whoever is watching this client instance.
package notify

import "sync"

// Hub fans a zero-argument change signal out to subscribers. Delivery is
// coalescing: a subscriber that has not drained its channel yet receives a
// single signal covering any number of mutations, never fewer than one.
type Hub struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[int]chan struct{}),
	}
}

// Subscribe returns a channel that receives after each committed mutation and
// a cancel func that must be called when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan struct{}, 1)
	h.subscribers[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subscribers, id)
	}
	return ch, cancel
}

// Notify signals every subscriber without blocking. A subscriber whose buffer
// is already full has a signal pending and needs no second one.
func (h *Hub) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
