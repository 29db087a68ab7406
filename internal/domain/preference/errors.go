package preference

import "errors"

// Sentinel kinds for preference errors.
var (
	ErrInvalidMapping = errors.New("invalid event signal mapping")
)
