package push

import (
	"sync"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
)

// Hub fans push events out to the connections of a stream. Every admin
// connection subscribes to the shared admin stream; each vendor to its own.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan notification.PushEvent]struct{}
	bufferSize  int
}

// NewHub creates a hub whose subscriber channels hold bufferSize events.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		subscribers: make(map[string]map[chan notification.PushEvent]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber on a stream and returns its channel and
// cleanup function. Cleanup is safe to call more than once.
func (h *Hub) Subscribe(streamKey string) (<-chan notification.PushEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan notification.PushEvent, h.bufferSize)

	if h.subscribers[streamKey] == nil {
		h.subscribers[streamKey] = make(map[chan notification.PushEvent]struct{})
	}
	h.subscribers[streamKey][ch] = struct{}{}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers[streamKey], ch)
			close(ch)
			if len(h.subscribers[streamKey]) == 0 {
				delete(h.subscribers, streamKey)
			}
		})
	}

	return ch, cleanup
}

// Publish sends an event to every subscriber of a stream. It returns the
// number of subscribers that received it; full subscribers are skipped.
func (h *Hub) Publish(streamKey string, event notification.PushEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.subscribers[streamKey] {
		select {
		case ch <- event:
			delivered++
		default:
			// Skip if channel is full (non-blocking to prevent deadlock)
		}
	}
	return delivered
}

// PublishToMany sends one event to several streams.
func (h *Hub) PublishToMany(streamKeys []string, event notification.PushEvent) int {
	delivered := 0
	for _, key := range streamKeys {
		delivered += h.Publish(key, event)
	}
	return delivered
}

// SubscriberCount returns the number of active subscribers on a stream
func (h *Hub) SubscriberCount(streamKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[streamKey])
}

// TotalSubscribers returns the number of active subscribers across all streams
func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, subs := range h.subscribers {
		total += len(subs)
	}
	return total
}
