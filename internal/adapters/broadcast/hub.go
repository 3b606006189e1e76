// Package broadcast fans processed telemetry out to live subscribers.
// Publishing never blocks: a full subscriber buffer loses a record according
// to the hub's overflow policy.
package broadcast

import (
	"context"
	"sync"

	"github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/pkg/logger"
	"github.com/okian/riskpulse/pkg/metrics"
)

// Policy decides which record is lost when a subscriber buffer is full.
type Policy string

// Overflow policies.
const (
	DropOldest Policy = "drop_oldest"
	DropNewest Policy = "drop_newest"
)

const defaultBufferSize = 256

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == DropOldest || p == DropNewest
}

type subscriber struct {
	ch   chan *model.TelemetryRecord
	done chan struct{}
	mu   sync.Mutex
}

// Hub is a multicast channel of processed records.
type Hub struct {
	buffer int
	policy Policy
	log    logger.Logger

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

// NewHub creates an open hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer: defaultBufferSize,
		policy: DropOldest,
		log:    logger.Default().Named("broadcast"),
		subs:   make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber. The returned channel is closed when ctx
// is done, cancel is called or the hub is closed. Records published before
// the call are not replayed.
func (h *Hub) Subscribe(ctx context.Context) (<-chan *model.TelemetryRecord, func()) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ch := make(chan *model.TelemetryRecord)
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	sub := &subscriber{
		ch:   make(chan *model.TelemetryRecord, h.buffer),
		done: make(chan struct{}),
	}
	h.subs[id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	metrics.UpdateBroadcastSubscribers(count)
	h.log.Debug(ctx, "subscriber added", logger.Int("subscribers", count))

	go func() {
		select {
		case <-ctx.Done():
			h.remove(id)
		case <-sub.done:
		}
	}()
	return sub.ch, func() { h.remove(id) }
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.ch)
		close(sub.done)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if ok {
		metrics.UpdateBroadcastSubscribers(count)
	}
}

// Publish offers rec to every subscriber without blocking.
func (h *Hub) Publish(rec *model.TelemetryRecord) {
	if rec == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if !h.deliver(sub, rec) {
			metrics.RecordBroadcastDropped(string(h.policy))
		}
	}
	metrics.RecordBroadcastPublished()
}

// deliver reports false when a record was lost.
func (h *Hub) deliver(sub *subscriber, rec *model.TelemetryRecord) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	select {
	case sub.ch <- rec:
		return true
	default:
	}
	if h.policy == DropNewest {
		return false
	}

	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- rec:
	default:
	}
	return false
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later publishes are ignored and
// later subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
		close(sub.done)
	}
	metrics.UpdateBroadcastSubscribers(0)
}
