package events

import (
	"slices"
	"sync"
	"sync/atomic"

	"grimm.is/luci/internal/clock"
)

// DefaultBuffer is the channel size of a subscription made with bufSize <= 0.
const DefaultBuffer = 256

type subscriber struct {
	ch    chan Event
	types []EventType // empty: every type
}

func (s *subscriber) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Hub fans events out to subscribers. Publishing never blocks: a
// subscriber whose channel is full misses the event and the drop is
// counted.
type Hub struct {
	clock clock.Clock

	mu   sync.RWMutex
	subs []*subscriber

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub returns a hub stamping events with the package clock.
func NewHub() *Hub {
	return NewHubWithClock(nil)
}

// NewHubWithClock returns a hub stamping events with clk.
func NewHubWithClock(clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.Default()
	}
	return &Hub{clock: clk}
}

// Publish delivers e to every subscriber of its type. A zero timestamp is
// set from the hub's clock.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = h.clock.Now()
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given. The caller must drain it.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = DefaultBuffer
	}
	s := &subscriber{ch: make(chan Event, bufSize), types: types}

	h.mu.Lock()
	h.subs = append(h.subs, s)
	h.mu.Unlock()
	return s.ch
}

// Unsubscribe stops delivery to ch. The channel is not closed.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = slices.DeleteFunc(h.subs, func(s *subscriber) bool {
		return (<-chan Event)(s.ch) == ch
	})
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns the publish and drop counters.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// Notify publishes a banner message for web clients.
func (h *Hub) Notify(level, message string) {
	h.Publish(Event{
		Type:   EventNotify,
		Source: "ui",
		Data:   NotifyData{Level: level, Message: message},
	})
}
