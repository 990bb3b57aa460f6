package realtime

import (
	"context"
	"sync"
	"time"
)

// Hub is an in-process Channel used when no Redis is configured. Events
// reach only subscribers in the same process.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
	now  func() time.Time
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), now: time.Now}
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = h.now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[event.Owner] {
		sub.offer(event)
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, owner string, mask Op, tables ...string) (*Subscription, error) {
	sub := newSubscription(mask, tables)
	h.mu.Lock()
	if _, ok := h.subs[owner]; !ok {
		h.subs[owner] = make(map[*Subscription]struct{})
	}
	h.subs[owner][sub] = struct{}{}
	h.mu.Unlock()

	sub.stop = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.subs[owner]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.subs, owner)
			}
		}
		close(sub.ch)
	}
	return sub, nil
}

// Subscribers reports how many live subscriptions an owner has.
func (h *Hub) Subscribers(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[owner])
}
