package api

import (
	"time"

	"github.com/okian/riskpulse/pkg/logger"
)

const (
	defaultMaxPageSize  = 1000
	defaultMaxBodyBytes = 1 << 20
	defaultWriteWait    = 10 * time.Second
)

type serverConfig struct {
	maxPageSize  int
	maxBodyBytes int64
	writeWait    time.Duration
	logger       logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*serverConfig)

// WithMaxPageSize caps the size parameter of history queries.
func WithMaxPageSize(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxPageSize = n
		}
	}
}

// WithMaxBodyBytes caps request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithWriteWait bounds a single websocket write.
func WithWriteWait(d time.Duration) Option {
	return func(c *serverConfig) {
		if d > 0 {
			c.writeWait = d
		}
	}
}

// WithLogger sets the API logger.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
