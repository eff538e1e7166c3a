package assistant

import (
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-assist/internal/protocol"
)

const defaultSubscriberBuffer = 64

// Hub fans events out to subscribers. A subscriber that falls behind loses
// events rather than blocking the publisher; once it has room again it first
// receives a resync event carrying the number of events it missed.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	next   int
	subs   map[int]*subscriber
	closed bool
}

type subscriber struct {
	ch      chan protocol.Event
	dropped int
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With(slog.String("component", "hub")),
		subs:   make(map[int]*subscriber),
	}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan protocol.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan protocol.Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = &subscriber{ch: ch}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		if sub.dropped > 0 {
			select {
			case sub.ch <- protocol.Event{Kind: protocol.KindResync, Timestamp: ev.Timestamp, Dropped: sub.dropped}:
				h.logger.Info("subscriber resynced", slog.Int("subscriber", id), slog.Int("dropped", sub.dropped))
				sub.dropped = 0
			default:
				sub.dropped++
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			h.logger.Warn("subscriber lagging; event dropped", slog.Int("subscriber", id), slog.String("kind", string(ev.Kind)))
		}
	}
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
