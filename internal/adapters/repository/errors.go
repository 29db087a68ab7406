package repository

import "errors"

// Sentinel kinds for repository errors. Lookups and conflicts use the
// shared model.ErrNotFound, model.ErrDuplicate and model.ErrInvalidTransition.
var (
	ErrClosed       = errors.New("store closed")
	ErrInvalidInput = errors.New("invalid input")
)
