package queue

import "errors"

// Sentinel kinds for enqueue failures.
var (
	ErrFull   = errors.New("trigger queue full")
	ErrClosed = errors.New("trigger queue closed")
)
