package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// InteractionsHandler is the append-only interaction event sink.
type InteractionsHandler struct {
	deps Dependencies
}

// NewInteractionsHandler creates a new interactions handler.
func NewInteractionsHandler(deps Dependencies) *InteractionsHandler {
	return &InteractionsHandler{deps: deps}
}

type interactionRequest struct {
	EventID    string `json:"event_id"`
	InstanceID string `json:"instance_id"`
	UserID     string `json:"user_id"`
	EventType  string `json:"event_type"`
	Timestamp  string `json:"timestamp"`
	TraceID    string `json:"trace_id"`
}

func (e interactionRequest) toEvent() (model.InteractionEvent, error) {
	switch {
	case strings.TrimSpace(e.UserID) == "":
		return model.InteractionEvent{}, fmt.Errorf("%w: missing user_id", ErrBadRequest)
	case strings.TrimSpace(e.EventType) == "":
		return model.InteractionEvent{}, fmt.Errorf("%w: missing event_type", ErrBadRequest)
	}
	var ts time.Time
	if e.Timestamp != "" {
		var err error
		if ts, err = parseTimestamp("timestamp", e.Timestamp); err != nil {
			return model.InteractionEvent{}, err
		}
	}
	return model.InteractionEvent{
		EventID:    e.EventID,
		InstanceID: e.InstanceID,
		UserID:     e.UserID,
		EventType:  e.EventType,
		Timestamp:  ts,
		TraceID:    e.TraceID,
	}, nil
}

// HandlePostInteraction handles POST /interactions. A replayed event id
// answers 200 with appended=false.
func (h *InteractionsHandler) HandlePostInteraction(w http.ResponseWriter, r *http.Request) {
	const op = "api.interactions.post"

	var req interactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, op, err)
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		writeServiceError(w, op, err)
		return
	}

	res, err := h.deps.RecordInteraction(r.Context(), ev)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	status := http.StatusCreated
	if !res.Appended {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}
