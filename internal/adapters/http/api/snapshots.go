package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// SnapshotsHandler accepts state snapshots from the upstream pipeline.
type SnapshotsHandler struct {
	deps Dependencies
}

// NewSnapshotsHandler creates a new snapshots handler.
func NewSnapshotsHandler(deps Dependencies) *SnapshotsHandler {
	return &SnapshotsHandler{deps: deps}
}

type snapshotRequest struct {
	UserID       string             `json:"user_id"`
	Timestamp    string             `json:"timestamp"`
	MetricScores map[string]float64 `json:"metric_scores"`
	TraceID      string             `json:"trace_id"`
}

type snapshotResponse struct {
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

// HandlePostSnapshot handles POST /snapshots. Snapshots are immutable; a
// second write for the same (user_id, timestamp) answers 409.
func (h *SnapshotsHandler) HandlePostSnapshot(w http.ResponseWriter, r *http.Request) {
	const op = "api.snapshots.post"

	var req snapshotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, op, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeServiceError(w, op, fmt.Errorf("%w: missing user_id", ErrBadRequest))
		return
	}
	ts, err := parseTimestamp("timestamp", req.Timestamp)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}

	snap := model.StateSnapshot{
		UserID:       req.UserID,
		Timestamp:    ts,
		MetricScores: req.MetricScores,
		TraceID:      req.TraceID,
	}
	if err := h.deps.PutSnapshot(r.Context(), snap); err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshotResponse{UserID: snap.UserID, Timestamp: req.Timestamp})
}
