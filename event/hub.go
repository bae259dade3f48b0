package event

import (
	"context"
	"sync"
)

var _ Notifier = (*Hub)(nil)

// Hub fans wake-ups out to in-process subscriptions. The memory store uses
// it directly; remote backends feed it from their transport.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Publish implements Notifier.
func (h *Hub) Publish(_ context.Context, queue string) error {
	h.Broadcast(queue)
	return nil
}

// Subscribe implements Notifier.
func (h *Hub) Subscribe(_ context.Context, queue string) (*Subscription, error) {
	return h.Add(queue), nil
}

// Add registers a new subscription for queue.
func (h *Hub) Add(queue string) *Subscription {
	var sub *Subscription
	sub = NewSubscription(queue, func() { h.remove(queue, sub) })

	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[queue]
	if set == nil {
		set = make(map[*Subscription]struct{})
		h.subs[queue] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Broadcast notifies every subscription of queue.
func (h *Hub) Broadcast(queue string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[queue] {
		sub.Notify()
	}
}

// Len returns the number of live subscriptions for queue.
func (h *Hub) Len(queue string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[queue])
}

// Queues returns the queues with at least one subscription.
func (h *Hub) Queues() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.subs))
	for q := range h.subs {
		out = append(out, q)
	}
	return out
}

func (h *Hub) remove(queue string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[queue]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, queue)
	}
}
