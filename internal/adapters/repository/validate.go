package repository

import (
	"fmt"
	"strings"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

func validateSnapshot(s model.StateSnapshot) error {
	switch {
	case strings.TrimSpace(s.UserID) == "":
		return fmt.Errorf("%w: snapshot user_id is empty", ErrInvalidInput)
	case s.Timestamp.IsZero():
		return fmt.Errorf("%w: snapshot timestamp is zero", ErrInvalidInput)
	}
	return nil
}

func validateEntry(e model.CatalogEntry) error {
	if strings.TrimSpace(e.Key) == "" || strings.TrimSpace(e.Metric) == "" || strings.TrimSpace(e.Surface) == "" {
		return fmt.Errorf("%w: catalog entry needs key, metric and surface", ErrInvalidInput)
	}
	if _, err := model.ParseLevel(string(e.Level)); err != nil {
		return fmt.Errorf("%w: catalog entry %s: %w", ErrInvalidInput, e.Key, err)
	}
	return nil
}

func validateInstance(i model.InterventionInstance) error {
	switch {
	case i.InstanceID == "", i.UserID == "", i.TraceID == "":
		return fmt.Errorf("%w: instance needs instance_id, user_id and trace_id", ErrInvalidInput)
	case i.Status != model.StatusCreated:
		return fmt.Errorf("%w: new instance must have status created, got %q", ErrInvalidInput, i.Status)
	case i.CreatedAt.IsZero():
		return fmt.Errorf("%w: instance created_at is zero", ErrInvalidInput)
	}
	return nil
}

func validateEvent(e model.InteractionEvent) error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return fmt.Errorf("%w: event_id is empty", ErrInvalidInput)
	case strings.TrimSpace(e.UserID) == "":
		return fmt.Errorf("%w: event user_id is empty", ErrInvalidInput)
	case strings.TrimSpace(e.EventType) == "":
		return fmt.Errorf("%w: event_type is empty", ErrInvalidInput)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: event timestamp is zero", ErrInvalidInput)
	}
	return nil
}

func validateTargetStatus(s model.Status) error {
	if s != model.StatusSent && s != model.StatusFailed {
		return fmt.Errorf("%w: target status must be sent or failed, got %q", model.ErrInvalidTransition, s)
	}
	return nil
}
