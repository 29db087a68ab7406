package api

import (
	"net/http"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// PreferencesHandler exposes the per-surface preference diagnostics of a user.
type PreferencesHandler struct {
	deps Dependencies
}

// NewPreferencesHandler creates a new preferences handler.
func NewPreferencesHandler(deps Dependencies) *PreferencesHandler {
	return &PreferencesHandler{deps: deps}
}

type rateLimitUsage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

type preferencesResponse struct {
	UserID      string                    `json:"user_id"`
	Preferences []model.SurfacePreference `json:"preferences"`
	RateLimit   rateLimitUsage            `json:"rate_limit"`
}

// HandleGetPreferences handles GET /preferences/{user_id}.
func (h *PreferencesHandler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	const op = "api.preferences.get"

	userID := r.PathValue("user_id")
	prefs, err := h.deps.GetPreferences(r.Context(), userID)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	used, limit, err := h.deps.RateLimitUsage(r.Context(), userID)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if prefs == nil {
		prefs = []model.SurfacePreference{}
	}
	writeJSON(w, http.StatusOK, preferencesResponse{
		UserID:      userID,
		Preferences: prefs,
		RateLimit:   rateLimitUsage{Used: used, Limit: limit},
	})
}
