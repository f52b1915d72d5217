package events

import (
	"sync"

	"github.com/shineum/alertmail-lite/internal/metrics"
)

// Subscriber receives delivery events on Events. Empty filters match everything.
type Subscriber struct {
	ID         string
	DeliveryID string // Filter by delivery ID (empty = all)
	Recipient  string // Filter by recipient (empty = all)
	Events     chan DeliveryEvent
}

// Hub fans delivery events out to subscribers. It is safe for concurrent use.
type Hub struct {
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
}

// NewHub returns a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers sub, replacing any subscriber with the same ID.
func (h *Hub) Subscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub.ID] = sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		close(sub.Events)
		delete(h.subscribers, id)
	}
}

// Publish delivers event to every matching subscriber without blocking.
// Events for subscribers with a full buffer are dropped and counted in
// metrics.EventsDropped.
func (h *Hub) Publish(event DeliveryEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if !h.matchesFilter(sub, event) {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

func (h *Hub) matchesFilter(sub *Subscriber, event DeliveryEvent) bool {
	if sub.DeliveryID != "" && sub.DeliveryID != event.DeliveryID {
		return false
	}
	if sub.Recipient != "" && sub.Recipient != event.Recipient {
		return false
	}
	return true
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
