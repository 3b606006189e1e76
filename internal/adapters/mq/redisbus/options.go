package redisbus

import (
	"time"

	"github.com/okian/riskpulse/pkg/logger"
)

// Option applies a configuration option to the Subscriber.
type Option func(*Subscriber)

// WithBufferSize sets the size of the delivery channel.
func WithBufferSize(size int) Option {
	return func(s *Subscriber) {
		if size > 0 {
			s.buffer = size
		}
	}
}

// WithClock sets the time source for ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Subscriber) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the subscriber logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.log = l
		}
	}
}
