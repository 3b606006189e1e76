package queue

import "errors"

// Sentinel kinds for publish failures.
var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)
