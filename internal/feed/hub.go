// Package feed broadcasts committed store mutations to operator views.
// A push is a refresh hint, not state: consumers re-read the store (or the
// outbox cursor feed) and must tolerate duplicates and reordering across
// independent entities. Per-entity commit order is preserved because the
// poller tails the outbox in cursor order.
package feed

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

type Event struct {
	Collection string          `json:"collection"`
	EntityID   string          `json:"entity_id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Subscriber struct {
	id         int64
	collection string
	events     chan Event
}

// Events delivers the change stream. The channel closes on Unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

type Hub struct {
	mu          sync.RWMutex
	nextID      int64
	subscribers map[int64]*Subscriber
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[int64]*Subscriber)}
}

// Subscribe registers an observer for one collection; an empty collection
// receives every event.
func (h *Hub) Subscribe(collection string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscriber{
		id:         h.nextID,
		collection: collection,
		events:     make(chan Event, 64),
	}
	h.subscribers[sub.id] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub.id]; !ok {
		return
	}
	delete(h.subscribers, sub.id)
	close(sub.events)
}

func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if sub.collection != "" && sub.collection != event.Collection {
			continue
		}
		select {
		case sub.events <- event:
		default:
			// Slow consumer: the event is dropped here, but the outbox
			// cursor feed still replays it on the next re-fetch.
			log.Printf("feed: drop event %s/%s for slow subscriber %d", event.Collection, event.EntityID, sub.id)
		}
	}
}
