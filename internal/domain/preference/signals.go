package preference

import (
	"fmt"
	"strings"
)

// Signal is the canonical meaning of a raw interaction event type.
type Signal string

// Canonical signals. Every mapped signal counts toward shown; neutral counts
// toward nothing else.
const (
	SignalShown   Signal = "shown"
	SignalEngaged Signal = "engaged"
	SignalAnnoyed Signal = "annoyed"
	SignalNeutral Signal = "neutral"
)

// Mapping maps raw, surface-specific event types to canonical signals.
// Event types absent from the mapping are ignored by the aggregator.
type Mapping map[string]Signal

// DefaultMapping treats timeout dismissals as neutral: they prove the
// intervention was shown but say nothing about annoyance.
func DefaultMapping() Mapping {
	return Mapping{
		"shown":           SignalShown,
		"tap_primary":     SignalEngaged,
		"dismiss_manual":  SignalAnnoyed,
		"dismiss_timeout": SignalNeutral,
	}
}

// ParseMapping builds a Mapping from configuration, rejecting unknown signals.
func ParseMapping(raw map[string]string) (Mapping, error) {
	m := make(Mapping, len(raw))
	for eventType, sig := range raw {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			return nil, fmt.Errorf("%w: empty event type", ErrInvalidMapping)
		}
		s := Signal(strings.ToLower(strings.TrimSpace(sig)))
		switch s {
		case SignalShown, SignalEngaged, SignalAnnoyed, SignalNeutral:
			m[eventType] = s
		default:
			return nil, fmt.Errorf("%w: event type %q maps to unknown signal %q", ErrInvalidMapping, eventType, sig)
		}
	}
	return m, nil
}

// Signal returns the canonical signal of eventType.
func (m Mapping) Signal(eventType string) (Signal, bool) {
	s, ok := m[eventType]
	return s, ok
}
