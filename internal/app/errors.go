package service

import "errors"

// Sentinel error kinds returned by the service.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrInvalidInput = errors.New("invalid input")
	ErrBackpressure = errors.New("trigger queue full")
)
