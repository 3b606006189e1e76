package broadcast

import "github.com/okian/riskpulse/pkg/logger"

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.buffer = size
		}
	}
}

// WithPolicy sets the overflow policy. Unknown policies are ignored.
func WithPolicy(p Policy) Option {
	return func(h *Hub) {
		if p.Valid() {
			h.policy = p
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}
