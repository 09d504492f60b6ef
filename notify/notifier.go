package notify

import (
	"sync"
	"sync/atomic"

	"github.com/maxpert/fieldsync/telemetry"
)

// defaultEventBufferSize is the buffer size for subscriber channels.
// Subscribers that can't keep up will have events dropped (non-blocking send).
const defaultEventBufferSize = 64

// Op names the kind of committed change
type Op string

const (
	OpInsert     Op = "insert"
	OpUpdate     Op = "update"
	OpDelete     Op = "delete"
	OpCheckpoint Op = "checkpoint"
	OpConflict   Op = "conflict"
	OpResolve    Op = "resolve"
	OpSyncState  Op = "sync_state"
	OpTable      Op = "table"
)

// RowEvent describes a committed row (or table) change.
// RowID is empty for table-level events.
type RowEvent struct {
	Table string
	RowID string
	Op    Op
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan RowEvent
	closed atomic.Bool
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub fans committed row events out to subscribers.
// Publish never blocks the committing goroutine.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates a new notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Publish sends ev to all matching subscribers (non-blocking).
func (h *Hub) Publish(ev RowEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.filter.Match(ev) {
			continue
		}

		select {
		case sub.ch <- ev:
		default:
			telemetry.NotificationsDroppedTotal.Inc()
		}
	}
}

// Subscribe creates a new subscription and returns the event channel and cancel function.
// The cancel function is idempotent and closes the channel.
func (h *Hub) Subscribe(filter Filter) (<-chan RowEvent, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan RowEvent, defaultEventBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	return sub.ch, func() { h.unsubscribe(sub.id) }
}

// SubscriberCount returns the number of live subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
