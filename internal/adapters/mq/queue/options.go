package queue

import "time"

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of buffered messages.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithTopic sets the topic stamped on published messages.
func WithTopic(topic string) Option {
	return func(q *InMemoryQueue) {
		if topic != "" {
			q.topic = topic
		}
	}
}

// WithClock sets the time source for ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(q *InMemoryQueue) {
		if now != nil {
			q.now = now
		}
	}
}
