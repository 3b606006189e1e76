package pricing

import (
	"time"

	"github.com/okian/riskpulse/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithDimensions replaces the pricing tables.
func WithDimensions(dims []Dimension) Option {
	return func(e *Engine) {
		if len(dims) > 0 {
			e.dimensions = dims
		}
	}
}

// WithClock sets the time source for startDate and lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the contract id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
