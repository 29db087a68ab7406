package model

import "errors"

// Sentinel kinds shared by stores and domain services.
var (
	// ErrNotFound reports a missing snapshot, instance or catalog entry.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports an idempotency conflict on write.
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalidTransition reports a forbidden instance status change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrMalformedSnapshot reports a snapshot without a usable metric score.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
)
