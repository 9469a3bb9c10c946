package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/logging"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Subscription is one live consumer of published transactions.
type Subscription struct {
	id      uint64
	ch      chan domain.Transaction
	dropped atomic.Int64
}

// ID identifies the subscription within its hub.
func (s *Subscription) ID() uint64 { return s.id }

// C delivers transactions. It is closed on Unsubscribe or hub Close.
func (s *Subscription) C() <-chan domain.Transaction { return s.ch }

// Dropped counts transactions discarded because the subscriber fell behind.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Hub fans transactions out to subscribers. Publish never blocks: a full queue
// drops its oldest entry to make room.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
	logger *slog.Logger

	published atomic.Int64
}

// NewHub creates a hub with per-subscriber queues of the given size.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{subs: make(map[uint64]*Subscription), buffer: buffer, logger: logger}
}

// Subscribe registers a new subscriber. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{id: h.nextID, ch: make(chan domain.Transaction, h.buffer)}
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	h.logger.Debug("subscriber added", "subscriber", sub.id, "subscribers", len(h.subs))
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
	h.logger.Debug("subscriber removed", "subscriber", sub.id, "dropped", sub.Dropped(), "subscribers", len(h.subs))
}

// Publish delivers tx to every subscriber without waiting on any of them.
func (h *Hub) Publish(tx domain.Transaction) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	for _, sub := range h.subs {
		deliver(sub, tx)
	}
}

func deliver(sub *Subscription, tx domain.Transaction) {
	select {
	case sub.ch <- tx:
		return
	default:
	}
	// Queue full: evict the oldest entry and retry once.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- tx:
	default:
		sub.dropped.Add(1)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Published returns how many transactions have been published.
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Close closes every subscription and rejects further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}
