// Package notify wakes long-poll subscribers when a watched key changes.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/burrowhq/burrow/telemetry"
)

// defaultSignalBufferSize is the buffer size for change signal channels.
// A long-poll subscriber completes on the first signal, so a small buffer
// suffices; slow subscribers have signals dropped (non-blocking send) and
// recover via the cache comparison on their next poll.
const defaultSignalBufferSize = 4

// Signal tells a subscriber that one of its watched keys changed.
type Signal struct {
	Content   string
	MessageID int64
}

// subscription represents a single long-poll subscriber.
type subscription struct {
	id     uint64
	keys   map[string]bool
	ch     chan Signal
	closed atomic.Bool
}

// matches checks whether the content key is watched by this subscription.
func (s *subscription) matches(content string) bool {
	return s.keys[content]
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe notification hub for change signals.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal wakes all subscribers watching the content key (non-blocking).
func (h *Hub) Signal(content string, messageID int64) {
	signal := Signal{
		Content:   content,
		MessageID: messageID,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(content) {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case sub.ch <- signal:
		default:
			telemetry.HubSignalsDroppedTotal.Inc()
		}
	}
}

// Subscribe registers a watch-key set and returns the signal channel and
// cancel function. The channel is buffered; signals are dropped silently
// when the subscriber cannot keep up. The cancel function is idempotent.
func (h *Hub) Subscribe(watchKeys []string) (<-chan Signal, func()) {
	keys := make(map[string]bool, len(watchKeys))
	for _, k := range watchKeys {
		keys[k] = true
	}
	sub := &subscription{
		id:   h.nextID.Add(1),
		keys: keys,
		ch:   make(chan Signal, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
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
