package apiclient

import (
	"sync"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
)

const eventBufferSize = 16

// eventHub fans auth events out to subscribers without blocking the publisher.
type eventHub struct {
	mu          sync.RWMutex
	subscribers map[int64]chan backend.AuthEvent
	sequence    int64
	closed      bool
}

func newEventHub() *eventHub {
	return &eventHub{subscribers: make(map[int64]chan backend.AuthEvent)}
}

func (h *eventHub) subscribe() (<-chan backend.AuthEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel := make(chan backend.AuthEvent, eventBufferSize)
	if h.closed {
		close(channel)
		return channel, func() {}
	}
	h.sequence++
	id := h.sequence
	h.subscribers[id] = channel

	var once sync.Once
	return channel, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subscriber, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(subscriber)
			}
		})
	}
}

// publish reports whether every subscriber had room for the event.
func (h *eventHub) publish(event backend.AuthEvent) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := true
	for _, subscriber := range h.subscribers {
		select {
		case subscriber <- event:
		default:
			delivered = false
		}
	}
	return delivered
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, subscriber := range h.subscribers {
		delete(h.subscribers, id)
		close(subscriber)
	}
}
