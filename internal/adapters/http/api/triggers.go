package api

import (
	"fmt"
	"net/http"
	"strings"

	service "github.com/meigsy/shift-sub001/internal/app"
	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// TriggersHandler handles trigger intake.
type TriggersHandler struct {
	deps Dependencies
}

// NewTriggersHandler creates a new triggers handler.
func NewTriggersHandler(deps Dependencies) *TriggersHandler {
	return &TriggersHandler{deps: deps}
}

// triggerRequest is the body of POST /triggers.
type triggerRequest struct {
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"trace_id"`
}

func (t triggerRequest) toTrigger() (model.Trigger, error) {
	if strings.TrimSpace(t.UserID) == "" {
		return model.Trigger{}, fmt.Errorf("%w: missing user_id", ErrBadRequest)
	}
	if strings.TrimSpace(t.TraceID) == "" {
		return model.Trigger{}, fmt.Errorf("%w: missing trace_id", ErrBadRequest)
	}
	ts, err := parseTimestamp("timestamp", t.Timestamp)
	if err != nil {
		return model.Trigger{}, err
	}
	return model.Trigger{UserID: t.UserID, Timestamp: ts, TraceID: t.TraceID}, nil
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// HandlePostTrigger handles POST /triggers. An accepted trigger answers 202,
// a repeated one 200, a full intake queue 429.
func (h *TriggersHandler) HandlePostTrigger(w http.ResponseWriter, r *http.Request) {
	const op = "api.triggers.post"

	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, op, err)
		return
	}
	t, err := req.toTrigger()
	if err != nil {
		writeServiceError(w, op, err)
		return
	}

	status, err := h.deps.SubmitTrigger(r.Context(), t)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if status == service.SubmitDuplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: string(status), Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: string(status)})
}
