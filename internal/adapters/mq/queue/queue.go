// Package queue is the in-process broker: a bounded topic that carries raw
// telemetry payloads from producers to the ingestion workers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/riskpulse/pkg/metrics"
)

// Default queue configuration.
const (
	DefaultTopic         = "vehicle-data"
	defaultQueueCapacity = 10000
)

// Message is a raw broker delivery.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Source delivers broker messages until ctx is done or the source closes.
type Source interface {
	Messages(ctx context.Context) <-chan Message
	Close() error
}

// Publisher hands a raw payload to a broker.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// InMemoryQueue implements Source and Publisher over a buffered channel.
type InMemoryQueue struct {
	messages chan Message
	capacity int
	topic    string
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded in-memory topic.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		topic:    DefaultTopic,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.messages = make(chan Message, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0, q.capacity)
	return q
}

// Topic returns the topic name of the queue.
func (q *InMemoryQueue) Topic() string { return q.topic }

// Enqueue adds a message without blocking. It reports false when the queue
// is full, closed or ctx is already done.
func (q *InMemoryQueue) Enqueue(ctx context.Context, m Message) bool {
	return q.offer(ctx, m) == nil
}

// Publish stamps payload with the queue topic and enqueues it.
func (q *InMemoryQueue) Publish(ctx context.Context, payload []byte) error {
	return q.offer(ctx, Message{Topic: q.topic, Payload: payload})
}

func (q *InMemoryQueue) offer(ctx context.Context, m Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError("context_cancelled")
		return err
	}
	if m.Topic == "" {
		m.Topic = q.topic
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = q.now()
	}

	select {
	case q.messages <- m:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.messages), q.capacity)
		return nil
	default:
		metrics.RecordQueueEnqueueError("full")
		return ErrFull
	}
}

// Messages returns a channel of queued messages. It closes when ctx is done
// or the queue is closed and drained.
func (q *InMemoryQueue) Messages(ctx context.Context) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-q.messages:
				if !ok {
					return
				}
				metrics.UpdateQueueSize(len(q.messages), q.capacity)
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of buffered messages.
func (q *InMemoryQueue) Len() int {
	return len(q.messages)
}

// Close stops accepting messages. Buffered messages remain readable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.messages)
	q.closed = true
	return nil
}

// IsClosed reports whether Close has been called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
