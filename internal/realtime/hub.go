package realtime

import "sync"

const DefaultBuffer = 16

// Hub fans events out to the subscribers of both trade parties. Publish never blocks; a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	next   int
	buffer int
	subs   map[string]map[int]chan Event
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[string]map[int]chan Event)}
}

func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.next++
	id := h.next
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[int]chan Event)
	}
	h.subs[userID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(e.FromUserID, e)
	if e.ToUserID != e.FromUserID {
		h.deliver(e.ToUserID, e)
	}
}

func (h *Hub) deliver(userID string, e Event) {
	for _, ch := range h.subs[userID] {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}
