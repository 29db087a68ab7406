package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// Listing limits.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// InstancesHandler serves the instance query surface and the delivery
// status callback.
type InstancesHandler struct {
	deps Dependencies
}

// NewInstancesHandler creates a new instances handler.
func NewInstancesHandler(deps Dependencies) *InstancesHandler {
	return &InstancesHandler{deps: deps}
}

type instancesResponse struct {
	UserID    string                       `json:"user_id"`
	Status    model.Status                 `json:"status"`
	Instances []model.InterventionInstance `json:"instances"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// HandleListInstances handles GET /instances?user_id=&status=&limit=.
// status defaults to created.
func (h *InstancesHandler) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	const op = "api.instances.list"

	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		writeServiceError(w, op, fmt.Errorf("%w: missing user_id", ErrBadRequest))
		return
	}

	status := model.StatusCreated
	if v := q.Get("status"); v != "" {
		st, err := model.ParseStatus(v)
		if err != nil {
			writeServiceError(w, op, fmt.Errorf("%w: %w", ErrBadRequest, err))
			return
		}
		status = st
	}

	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeServiceError(w, op, fmt.Errorf("%w: invalid limit", ErrBadRequest))
			return
		}
		limit = min(n, maxListLimit)
	}

	out, err := h.deps.ListInstances(r.Context(), userID, status, limit)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, instancesResponse{UserID: userID, Status: status, Instances: out})
}

// HandleGetInstance handles GET /instances/{id}.
func (h *InstancesHandler) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	const op = "api.instances.get"

	inst, err := h.deps.GetInstance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// HandlePostStatus handles POST /instances/{id}/status. Only created
// instances move, and only to sent or failed.
func (h *InstancesHandler) HandlePostStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.instances.status"

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, op, err)
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil || status == model.StatusCreated {
		writeServiceError(w, op, fmt.Errorf("%w: status must be sent or failed", ErrBadRequest))
		return
	}

	inst, err := h.deps.UpdateInstanceStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}
