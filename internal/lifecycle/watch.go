package lifecycle

import "sync"

// stateHub hands the latest State to each watcher. A watcher's channel holds
// at most one pending snapshot, which newer snapshots replace.
type stateHub struct {
	mu       sync.Mutex
	latest   State
	watchers map[int64]chan State
	sequence int64
	closed   bool
}

func newStateHub(initial State) *stateHub {
	return &stateHub{latest: initial, watchers: make(map[int64]chan State)}
}

func (h *stateHub) subscribe() (<-chan State, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel := make(chan State, 1)
	if h.closed {
		channel <- cloneState(h.latest)
		close(channel)
		return channel, func() {}
	}
	channel <- cloneState(h.latest)
	h.sequence++
	id := h.sequence
	h.watchers[id] = channel

	var once sync.Once
	return channel, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if watcher, ok := h.watchers[id]; ok {
				delete(h.watchers, id)
				close(watcher)
			}
		})
	}
}

func (h *stateHub) publish(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = state
	for _, watcher := range h.watchers {
		select {
		case <-watcher:
		default:
		}
		watcher <- cloneState(state)
	}
}

func (h *stateHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, watcher := range h.watchers {
		delete(h.watchers, id)
		close(watcher)
	}
}
