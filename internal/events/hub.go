package events

import "sync"

// subscriberBuffer is how many events a slow subscriber may lag before it misses some.
const subscriberBuffer = 128

// Hub fans run events out to live subscribers and keeps the most recent ones
// so a client that connects mid-run can catch up. The run never reads from it.
type Hub struct {
	mu sync.Mutex

	recent []Event
	oldest int
	n      int

	subs    map[uint64]chan Event
	lastID  uint64
	dropped uint64
}

// NewHub creates a hub remembering up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		recent: make([]Event, capacity),
		subs:   make(map[uint64]chan Event),
	}
}

// Publish records ev and offers it to every subscriber. ev.Seq must already be set.
// A subscriber whose buffer is full misses the event rather than stalling the run.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.remember(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

// Subscribe returns a channel of future events and a function that ends the subscription.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	id := h.lastID
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// SnapshotSince returns remembered events with Seq greater than lastSeq, oldest first.
// lastSeq 0 returns everything remembered.
func (h *Hub) SnapshotSince(lastSeq int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.n)
	for i := range h.n {
		if ev := h.at(i); ev.Seq > lastSeq {
			out = append(out, ev)
		}
	}
	return out
}

// Latest returns the newest remembered event.
func (h *Hub) Latest() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n == 0 {
		return Event{}, false
	}
	return h.at(h.n - 1), true
}

// Dropped counts deliveries skipped because a subscriber fell behind.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) at(i int) Event {
	return h.recent[(h.oldest+i)%len(h.recent)]
}

func (h *Hub) remember(ev Event) {
	if h.n < len(h.recent) {
		h.recent[(h.oldest+h.n)%len(h.recent)] = ev
		h.n++
		return
	}
	h.recent[h.oldest] = ev
	h.oldest = (h.oldest + 1) % len(h.recent)
}
