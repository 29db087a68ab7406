// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	service "github.com/meigsy/shift-sub001/internal/app"
	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SubmitTrigger(ctx context.Context, t model.Trigger) (service.SubmitStatus, error)
	PutSnapshot(ctx context.Context, snap model.StateSnapshot) error
	RecordInteraction(ctx context.Context, ev model.InteractionEvent) (service.InteractionResult, error)

	ListInstances(ctx context.Context, userID string, status model.Status, limit int) ([]model.InterventionInstance, error)
	GetInstance(ctx context.Context, instanceID string) (model.InterventionInstance, error)
	UpdateInstanceStatus(ctx context.Context, instanceID string, status model.Status) (model.InterventionInstance, error)

	GetPreferences(ctx context.Context, userID string) ([]model.SurfacePreference, error)
	RateLimitUsage(ctx context.Context, userID string) (used, limit int, err error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler       *HealthHandler
	statsHandler        *StatsHandler
	triggersHandler     *TriggersHandler
	snapshotsHandler    *SnapshotsHandler
	interactionsHandler *InteractionsHandler
	instancesHandler    *InstancesHandler
	preferencesHandler  *PreferencesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:       NewHealthHandler(),
		statsHandler:        NewStatsHandler(statsProvider),
		triggersHandler:     NewTriggersHandler(deps),
		snapshotsHandler:    NewSnapshotsHandler(deps),
		interactionsHandler: NewInteractionsHandler(deps),
		instancesHandler:    NewInstancesHandler(deps),
		preferencesHandler:  NewPreferencesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /triggers", MetricsMiddleware(s.triggersHandler.HandlePostTrigger, "triggers"))
	mux.HandleFunc("POST /snapshots", MetricsMiddleware(s.snapshotsHandler.HandlePostSnapshot, "snapshots"))
	mux.HandleFunc("POST /interactions", MetricsMiddleware(s.interactionsHandler.HandlePostInteraction, "interactions"))
	mux.HandleFunc("GET /instances", MetricsMiddleware(s.instancesHandler.HandleListInstances, "instances"))
	mux.HandleFunc("GET /instances/{id}", MetricsMiddleware(s.instancesHandler.HandleGetInstance, "instance"))
	mux.HandleFunc("POST /instances/{id}/status", MetricsMiddleware(s.instancesHandler.HandlePostStatus, "instance_status"))
	mux.HandleFunc("GET /preferences/{user_id}", MetricsMiddleware(s.preferencesHandler.HandleGetPreferences, "preferences"))
}
