package worker

import (
	"github.com/okian/riskpulse/internal/domain/dedupe"
	"github.com/okian/riskpulse/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithDeduper enables the delivery dedupe guard. A nil deduper disables it.
func WithDeduper(d dedupe.Deduper) Option {
	return func(p *Pool) {
		p.deduper = d
	}
}

// WithBroadcaster sets where successfully processed records are published.
func WithBroadcaster(b Broadcaster) Option {
	return func(p *Pool) {
		p.broadcaster = b
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}
