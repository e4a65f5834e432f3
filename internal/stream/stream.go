package stream

import (
	"context"
	"sync"

	"reviewhub.org/internal/review"
)

// Hub fan-outs record change events to all active subscribers (connected
// analysis tools watching a branch). Delivery is best-effort: a slow
// subscriber loses events rather than blocking the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	ch          chan review.ChangeEvent
	projectUUID string // empty subscribes to everything
}

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for one project (or all projects when
// projectUUID is empty) and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context, projectUUID string) <-chan review.ChangeEvent {
	ch := make(chan review.ChangeEvent, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{ch: ch, projectUUID: projectUUID}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (h *Hub) Publish(evt review.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.projectUUID != "" && sub.projectUUID != evt.ProjectUUID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

var _ review.Notifier = (*Hub)(nil)
